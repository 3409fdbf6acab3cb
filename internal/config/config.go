// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `env:"PORT" envDefault:"8080"`
	Env       string `env:"ENV" envDefault:"development"` // "development", "staging", "production"
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Database (optional, uses in-memory stores if not set)
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis carries job wake-ups between processes (optional)
	RedisURL     string `env:"REDIS_URL"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"riskintake:jobs:enqueued"`

	Uploads UploadConfig `envPrefix:"UPLOAD_"`
	Worker  WorkerConfig `envPrefix:"WORKER_"`
	Risk    RiskConfig   `envPrefix:"RISK_"`

	// Job submission throttling per user
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Browser origins allowed to call the API
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// OpenTelemetry collector (optional)
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceSampleRatio float64 `env:"OTEL_TRACES_SAMPLE_RATIO" envDefault:"1"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// UploadConfig controls where CSV uploads are kept until processed.
type UploadConfig struct {
	Dir      string `env:"DIR" envDefault:"./uploads"`
	Backend  string `env:"BACKEND" envDefault:"disk"` // "disk" or "memory"
	MaxBytes int64  `env:"MAX_BYTES" envDefault:"10485760"`
}

// WorkerConfig controls the background job loop.
type WorkerConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"5"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`
	JobTimeout   time.Duration `env:"JOB_TIMEOUT" envDefault:"15m"`
}

// RiskConfig selects the scoring configuration.
type RiskConfig struct {
	ConfigFile string `env:"CONFIG_FILE"`
	Scale      string `env:"SCALE"` // "percent" or "unit"; empty keeps the file or default
}

// RateLimitConfig throttles uploads and rescore requests.
type RateLimitConfig struct {
	Enabled           bool `env:"ENABLED" envDefault:"true"`
	RequestsPerMinute int  `env:"RPM" envDefault:"30"`
	Burst             int  `env:"BURST" envDefault:"10"`
}

// Blob backends
const (
	BlobDisk   = "disk"
	BlobMemory = "memory"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	switch c.Uploads.Backend {
	case BlobDisk:
		if c.Uploads.Dir == "" {
			return errors.New("UPLOAD_DIR is required for the disk backend")
		}
	case BlobMemory:
	default:
		return fmt.Errorf("UPLOAD_BACKEND must be disk or memory, got %q", c.Uploads.Backend)
	}
	if c.Uploads.MaxBytes <= 0 {
		return errors.New("UPLOAD_MAX_BYTES must be positive")
	}
	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 100 {
		return errors.New("WORKER_BATCH_SIZE must be between 1 and 100")
	}
	if c.Worker.PollInterval < 10*time.Millisecond {
		return errors.New("WORKER_POLL_INTERVAL must be at least 10ms")
	}
	if c.Worker.JobTimeout <= 0 {
		return errors.New("WORKER_JOB_TIMEOUT must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLE_RATIO must be between 0 and 1")
	}
	switch c.Risk.Scale {
	case "", "percent", "unit":
	default:
		return fmt.Errorf("RISK_SCALE must be percent or unit, got %q", c.Risk.Scale)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

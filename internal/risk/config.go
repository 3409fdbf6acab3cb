package risk

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the tunable parameters of the scoring function. Each weight is
// the fraction of the scale a fired signal contributes.
type Weights struct {
	LargeAmountThreshold float64 `yaml:"large_amount_threshold"`
	LargeAmount          float64 `yaml:"large_amount"`
	UnusualCountry       float64 `yaml:"unusual_country"`
	OffHours             float64 `yaml:"off_hours"`
	Blacklist            float64 `yaml:"blacklist"`
}

// Config describes an Estimator. It is copied by New, so later mutation of a
// Config value does not affect an Estimator built from it.
type Config struct {
	Scale            Scale    `yaml:"scale"`
	Weights          Weights  `yaml:"weights"`
	AllowedCountries []string `yaml:"allowed_countries"`
	Blacklist        []string `yaml:"blacklist"`
	// Timezone is the IANA zone used to read the hour of a timestamp.
	// Empty means UTC.
	Timezone string `yaml:"timezone"`
	// OffHoursStart and OffHoursEnd bound the half-open hour range [start, end).
	OffHoursStart int `yaml:"off_hours_start"`
	OffHoursEnd   int `yaml:"off_hours_end"`
}

// Default weight set.
const (
	DefaultLargeAmountThreshold = 1000
	DefaultLargeAmountWeight    = 0.35
	DefaultUnusualCountryWeight = 0.25
	DefaultOffHoursWeight       = 0.15
	DefaultBlacklistWeight      = 0.25
)

// DefaultConfig returns the canonical configuration: [0, 100] output and a
// weight set that sums to 1.
func DefaultConfig() Config {
	return Config{
		Scale: ScalePercent,
		Weights: Weights{
			LargeAmountThreshold: DefaultLargeAmountThreshold,
			LargeAmount:          DefaultLargeAmountWeight,
			UnusualCountry:       DefaultUnusualCountryWeight,
			OffHours:             DefaultOffHoursWeight,
			Blacklist:            DefaultBlacklistWeight,
		},
		AllowedCountries: []string{"ireland", "uk", "usa"},
		Blacklist:        []string{"scamshop", "fraudmart", "shady deals ltd", "darkweb market"},
		OffHoursStart:    0,
		OffHoursEnd:      5,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys absent from the file
// keep their default values; present list keys replace the default list.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return cfg, fmt.Errorf("read risk config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse risk config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load builds an estimator from an optional YAML file and an optional scale
// override. Empty arguments keep the defaults.
func Load(configFile, scale string) (*Estimator, error) {
	cfg := DefaultConfig()
	if configFile != "" {
		loaded, err := LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if scale != "" {
		cfg.Scale = Scale(scale)
	}
	return New(cfg)
}

// Validate rejects configurations that would make scoring ill-defined.
func (c Config) Validate() error {
	if !c.Scale.Valid() {
		return fmt.Errorf("risk: unknown scale %q", c.Scale)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		"large_amount_threshold": w.LargeAmountThreshold,
		"large_amount":           w.LargeAmount,
		"unusual_country":        w.UnusualCountry,
		"off_hours":              w.OffHours,
		"blacklist":              w.Blacklist,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("risk: weight %s must be a non-negative number", name)
		}
	}
	if c.OffHoursStart < 0 || c.OffHoursEnd > 24 || c.OffHoursStart > c.OffHoursEnd {
		return errors.New("risk: off-hours range must satisfy 0 <= start <= end <= 24")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("risk: invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

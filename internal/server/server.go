// Package server sets up the HTTP server, the job worker and their backing
// stores.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/riskintake/internal/blob"
	"github.com/mbd888/riskintake/internal/config"
	"github.com/mbd888/riskintake/internal/csvmap"
	"github.com/mbd888/riskintake/internal/dashboard"
	"github.com/mbd888/riskintake/internal/health"
	"github.com/mbd888/riskintake/internal/idgen"
	"github.com/mbd888/riskintake/internal/jobs"
	"github.com/mbd888/riskintake/internal/logging"
	"github.com/mbd888/riskintake/internal/metrics"
	"github.com/mbd888/riskintake/internal/ratelimit"
	"github.com/mbd888/riskintake/internal/retry"
	"github.com/mbd888/riskintake/internal/risk"
	"github.com/mbd888/riskintake/internal/security"
	"github.com/mbd888/riskintake/internal/traces"
	"github.com/mbd888/riskintake/internal/transactions"
	"github.com/mbd888/riskintake/internal/users"
	"github.com/mbd888/riskintake/internal/validation"
	"github.com/mbd888/riskintake/migrations"
)

// Version is reported by /health.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	db            *sql.DB       // nil if using in-memory
	redis         *redis.Client // nil without REDIS_URL
	redisNotifier *jobs.RedisNotifier
	notifier      jobs.Notifier
	blobs         blob.Store

	txService   *transactions.Service
	jobService  *jobs.Service
	userService *users.Service
	worker      *jobs.Worker // nil if WORKER_ENABLED=false
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router        *gin.Engine
	httpSrv       *http.Server
	listener      net.Listener
	logger        *slog.Logger
	traceShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBlobStore overrides the configured upload store (for testing)
func WithBlobStore(b blob.Store) Option {
	return func(s *Server) {
		s.blobs = b
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		health: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
		Environment: cfg.Env,
		Version:     Version,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	estimator, err := newEstimator(cfg.Risk)
	if err != nil {
		return nil, err
	}
	s.logger.Info("risk estimator configured", "scale", estimator.Scale(), "config_file", cfg.Risk.ConfigFile)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		txStore   transactions.Store
		jobStore  jobs.Store
		userStore users.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL, s.logger)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.health.Register("database", health.PingChecker("database", db.PingContext))

		txStore = transactions.NewPostgresStore(db)
		jobStore = jobs.NewPostgresStore(db)
		userStore = users.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		txStore = transactions.NewMemoryStore()
		jobStore = jobs.NewMemoryStore()
		userStore = users.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Job wake-ups (Redis pub/sub across processes, otherwise in-process)
	if cfg.RedisURL != "" {
		client, err := openRedis(ctx, cfg.RedisURL, s.logger)
		if err != nil {
			s.closeStores()
			return nil, err
		}
		s.redis = client
		s.redisNotifier = jobs.NewRedisNotifier(client, cfg.RedisChannel, s.logger)
		s.notifier = s.redisNotifier
		s.health.Register("redis", health.PingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		s.logger.Info("job notifications via redis", "channel", cfg.RedisChannel)
	} else {
		s.notifier = jobs.NewLocalNotifier()
	}

	if s.blobs == nil {
		blobs, err := newBlobStore(cfg.Uploads)
		if err != nil {
			s.closeStores()
			return nil, err
		}
		s.blobs = blobs
	}
	if disk, ok := s.blobs.(*blob.DiskStore); ok {
		s.health.Register("uploads", health.PingChecker("uploads", func(context.Context) error {
			_, err := os.Stat(disk.Dir())
			return err
		}))
		s.logger.Info("upload storage on disk", "dir", disk.Dir())
	}

	s.txService = transactions.NewService(txStore, estimator)
	s.jobService = jobs.NewService(jobStore, s.blobs, s.notifier, s.logger)
	s.userService = users.NewService(userStore)

	if cfg.Worker.Enabled {
		processor := jobs.NewProcessor(s.blobs, s.txService, csvmap.NewDefault())
		s.worker = jobs.NewWorker(jobStore, processor,
			jobs.WithBatchSize(cfg.Worker.BatchSize),
			jobs.WithPollInterval(cfg.Worker.PollInterval),
			jobs.WithJobTimeout(cfg.Worker.JobTimeout),
			jobs.WithNotifier(s.notifier),
			jobs.WithLogger(s.logger),
		)
	} else {
		s.logger.Info("job worker disabled, jobs will wait for another process")
	}

	if cfg.RateLimit.Enabled {
		s.rateLimiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.Burst,
			CleanupInterval:   time.Minute,
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func newEstimator(rc config.RiskConfig) (*risk.Estimator, error) {
	est, err := risk.Load(rc.ConfigFile, rc.Scale)
	if err != nil {
		return nil, fmt.Errorf("failed to build risk estimator: %w", err)
	}
	return est, nil
}

func openDatabase(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("database not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, policy, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, rawURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	policy := retry.Startup
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("redis not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newBlobStore(cfg config.UploadConfig) (blob.Store, error) {
	switch cfg.Backend {
	case config.BlobMemory:
		return blob.NewMemoryStore(), nil
	default:
		store, err := blob.NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open upload dir: %w", err)
		}
		return store, nil
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.Random()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	jobHandler := jobs.NewHandler(s.jobService, s.cfg.Uploads.MaxBytes)
	if s.rateLimiter != nil {
		jobHandler.WithSubmitMiddleware(s.rateLimiter.Middleware(nil))
	}

	// Uploads carry their own size limit
	jobHandler.RegisterUploadRoutes(v1)

	// Everything else is small JSON
	api := v1.Group("", validation.RequestSizeMiddleware(validation.MaxRequestSize))
	users.NewHandler(s.userService).RegisterRoutes(api)
	transactions.NewHandler(s.txService).RegisterRoutes(api)
	jobHandler.RegisterRoutes(api)
	dashboard.NewHandler(s.txService, s.jobService).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Worker    string          `json:"worker"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	worker := "disabled"
	if s.worker != nil {
		worker = "enabled"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Worker:    worker,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP and runs the job worker until ctx is cancelled or a
// shutdown signal arrives, then drains both and releases resources.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		s.closeStores()
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       60 * time.Second, // uploads
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server", "addr", ln.Addr().String())
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if s.worker != nil {
		g.Go(func() error {
			s.worker.Start(gctx)
			return nil
		})
	}

	if s.redisNotifier != nil {
		g.Go(func() error {
			s.redisNotifier.Listen(gctx)
			return nil
		})
	}

	if s.db != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, s.db, 15*time.Second)
			return nil
		})
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	g.Go(func() error {
		<-gctx.Done()
		return s.Shutdown()
	})

	err = g.Wait()
	s.closeStores()
	s.logger.Info("server stopped")
	return err
}

// Addr returns the bound address once Run is listening.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and signals the worker to finish its
// current batch. Stores are closed by Run once everything has drained.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.redisNotifier != nil {
		_ = s.redisNotifier.Close()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}
	return nil
}

func (s *Server) closeStores() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

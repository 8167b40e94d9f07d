// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/walletrisk/internal/addrbook"
	"github.com/mbd888/walletrisk/internal/analyzer"
	"github.com/mbd888/walletrisk/internal/circuitbreaker"
	"github.com/mbd888/walletrisk/internal/config"
	"github.com/mbd888/walletrisk/internal/health"
	"github.com/mbd888/walletrisk/internal/logging"
	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/providers"
	"github.com/mbd888/walletrisk/internal/ratelimit"
	"github.com/mbd888/walletrisk/internal/realtime"
	"github.com/mbd888/walletrisk/internal/sanctions"
	"github.com/mbd888/walletrisk/internal/security"
	"github.com/mbd888/walletrisk/internal/traces"
	"github.com/mbd888/walletrisk/internal/validation"
	"github.com/mbd888/walletrisk/internal/webhooks"
)

// Version is reported by /health and the tracer resource.
const Version = "0.1.0"

// Server wires the providers, the sanctions registry and the aggregator
// behind one gin router.
type Server struct {
	cfg          *config.Config
	book         *addrbook.Book
	sanctions    *sanctions.Registry
	refreshTimer *sanctions.Timer
	breaker      *circuitbreaker.Breaker
	catalog      *providers.Catalog
	aggregator   *analyzer.Aggregator
	realtimeHub  *realtime.Hub
	webhookStore webhooks.Store
	dispatcher   *webhooks.Dispatcher
	checks       *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	auditDB      *analyzer.PostgresStore
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	httpClient   *http.Client
	listClient   *http.Client
	shutdownOTel func(context.Context) error
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
	started atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAddressBook replaces the embedded address book.
func WithAddressBook(book *addrbook.Book) Option {
	return func(s *Server) {
		s.book = book
	}
}

// WithHTTPClient sets the client used for upstream providers (for testing).
// List downloads reuse its transport with their own timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) {
		s.httpClient = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		book:       addrbook.Default(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	s.listClient = &http.Client{
		Timeout:   sanctions.DefaultFetchTimeout,
		Transport: s.httpClient.Transport,
	}

	ctx := context.Background()

	shutdownOTel, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownOTel = shutdownOTel

	// Sanctions registry: baseline, then cache file, then overrides
	s.sanctions = sanctions.New(s.book, sanctions.Options{
		CacheFile:    cfg.SanctionsCacheFile,
		OverrideFile: cfg.SanctionsOverrideFile,
		Sources:      cfg.SanctionsSources,
		Interval:     cfg.SanctionsInterval,
		HTTPClient:   s.listClient,
		Logger:       s.logger,
	})
	if err := s.sanctions.Load(); err != nil {
		s.logger.Warn("sanctions registry loaded with warnings", "error", err)
	}
	s.refreshTimer = sanctions.NewTimer(s.sanctions, s.logger)

	// Providers share one breaker so /health/ready can report open circuits
	s.breaker = circuitbreaker.New(5, 30*time.Second)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("provider circuit changed", "provider", key, "from", from.String(), "to", to.String())
	})
	s.catalog, err = providers.Build(cfg, providers.Deps{
		Sanctions: s.sanctions,
		Book:      s.book,
		Breaker:   s.breaker,
		Client:    s.httpClient,
		Timeout:   cfg.UpstreamTimeout,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}
	for _, info := range s.catalog.Describe() {
		s.logger.Info("provider configured", "provider", info.Key, "mode", info.Mode)
	}

	// Audit trail (Postgres if DATABASE_URL set, otherwise in-memory)
	var store analyzer.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pg := analyzer.NewPostgresStore(db)
		if err := pg.Ping(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		s.auditDB = pg
		store = pg
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = analyzer.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	s.aggregator = analyzer.New(s.catalog, store, s.logger)

	// Realtime events
	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins)
	s.aggregator.OnReport(func(r *analyzer.Report) {
		s.realtimeHub.PublishAnalysis(r.Address, r.Overall, r)
	})
	s.sanctions.OnRefresh(func(res *sanctions.RefreshResult) {
		s.realtimeHub.PublishSanctionsRefresh(gin.H{
			"totalAddresses": res.TotalAddresses,
			"added":          res.Added,
			"removed":        res.Removed,
			"lastUpdate":     res.LastUpdate,
		})
	})

	// Risk alert webhooks
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, s.httpClient, s.logger)
	emitter := webhooks.NewEmitter(s.dispatcher, s.logger)
	s.aggregator.OnReport(emitter.EmitReport)
	s.sanctions.OnRefresh(emitter.EmitSanctionsRefresh)

	s.setupHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

func (s *Server) setupHealthChecks() {
	s.checks = health.NewRegistry(2 * time.Second)

	s.checks.Register("sanctions", func(context.Context) health.Status {
		st := s.sanctions.Stats()
		return health.Status{
			Healthy: st.TotalSanctionedAddresses > 0,
			Detail:  fmt.Sprintf("%d addresses, %s (%s)", st.TotalSanctionedAddresses, st.Status, st.Source),
		}
	})

	if s.auditDB != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.auditDB.Ping(ctx); err != nil {
				return health.Status{Detail: err.Error()}
			}
			return health.Status{Healthy: true}
		})
	}

	s.checks.RegisterOptional("providers", func(context.Context) health.Status {
		var open []string
		for _, p := range s.catalog.All() {
			if s.breaker.State(p.Key()) == circuitbreaker.StateOpen {
				open = append(open, p.Key())
			}
		}
		if len(open) > 0 {
			return health.Status{Detail: fmt.Sprintf("circuit open: %v", open)}
		}
		return health.Status{Healthy: true}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
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

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	providers.NewHandler(s.catalog).RegisterRoutes(api)
	analyzer.NewHandler(s.aggregator).RegisterRoutes(api)
	sanctions.NewHandler(s.sanctions).RegisterRoutes(api)
	webhooks.NewHandler(s.webhookStore, s.cfg.IsDevelopment()).RegisterRoutes(api)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	OK        bool            `json:"ok"`
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// healthHandler always answers 200 while the process is up; degraded
// subsystems show in the status field rather than the HTTP code.
func (s *Server) healthHandler(c *gin.Context) {
	healthy, degraded, statuses := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	switch {
	case !healthy:
		status = "unhealthy"
	case degraded:
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		OK:        true,
		Status:    status,
		Version:   Version,
		Checks:    statuses,
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
	// Refresh loop exited after Run; the snapshot would go stale
	if s.started.Load() && !s.refreshTimer.Running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "reason": "sanctions refresh stopped"})
		return
	}
	healthy, _, statuses := s.checks.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"sanctioned", s.sanctions.Len(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	// Refreshes immediately when the snapshot is stale, then on the interval
	s.started.Store(true)
	go s.refreshTimer.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.refreshTimer.Stop()
	s.logger.Info("sanctions refresh timer stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Pending audit writes must land before the pool closes
	s.aggregator.Wait()
	s.dispatcher.Wait()
	s.catalog.Close()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	if err := s.shutdownOTel(ctx); err != nil {
		s.logger.Error("tracer shutdown error", "error", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sanctions exposes the registry to in-process callers such as the MCP server.
func (s *Server) Sanctions() *sanctions.Registry {
	return s.sanctions
}

// Aggregator exposes the analysis pipeline to in-process callers.
func (s *Server) Aggregator() *analyzer.Aggregator {
	return s.aggregator
}

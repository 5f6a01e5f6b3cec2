// Package server wires the accounting components together and serves the
// operations API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/driveledger/internal/admission"
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/config"
	"github.com/mbd888/driveledger/internal/handshake"
	"github.com/mbd888/driveledger/internal/health"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/logging"
	"github.com/mbd888/driveledger/internal/meter"
	"github.com/mbd888/driveledger/internal/metrics"
	"github.com/mbd888/driveledger/internal/ratelimit"
	"github.com/mbd888/driveledger/internal/realtime"
	"github.com/mbd888/driveledger/internal/receipts"
	"github.com/mbd888/driveledger/internal/retry"
	"github.com/mbd888/driveledger/internal/security"
	"github.com/mbd888/driveledger/internal/session"
	"github.com/mbd888/driveledger/internal/strikes"
	"github.com/mbd888/driveledger/internal/validation"
	"github.com/mbd888/driveledger/migrations"
)

// Version is reported by /health and /v1/node.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and the accounting components
type Server struct {
	cfg         *config.Config
	signer      identity.Signer
	registry    *channels.Registry
	meter       *meter.Meter
	meterStore  meter.Store
	flusher     *meter.Flusher
	receipts    *receipts.Engine
	strikes     *strikes.Ledger
	auth        *handshake.Authenticator
	admission   *admission.Controller
	limits      admission.Limits
	sessions    *session.Manager
	transport   session.Transport
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	// cancels background goroutines started in Run
	cancelRunCtx context.CancelFunc

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

// WithSigner sets the node identity instead of loading NODE_KEY_FILE
func WithSigner(signer identity.Signer) Option {
	return func(s *Server) {
		s.signer = signer
	}
}

// WithTransport attaches the piece-exchange layer
func WithTransport(t session.Transport) Option {
	return func(s *Server) {
		s.transport = t
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg: cfg,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	ctx := context.Background()

	if s.signer == nil {
		signer, err := identity.LoadOrCreateSigner(cfg.NodeKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load node key: %w", err)
		}
		s.signer = signer
	}
	self := s.signer.PublicKey()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		channelStore channels.Store
		receiptStore receipts.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL, s.logger)
		if err != nil {
			return nil, err
		}
		if err := migrations.Up(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		s.db = db
		channelStore = channels.NewPostgresStore(db)
		receiptStore = receipts.NewPostgresStore(db)
		s.meterStore = meter.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		receiptStore = receipts.NewMemoryStore()
		s.logger.Info("using in-memory storage (counters and receipts will not persist)")
	}

	s.registry = channels.NewRegistry(channelStore, s.logger)
	if err := s.registry.Load(ctx); err != nil {
		return nil, err
	}

	s.meter = meter.New(s.registry, s.logger)
	if s.meterStore != nil {
		if err := s.meter.Restore(ctx, s.meterStore); err != nil {
			return nil, fmt.Errorf("failed to restore transfer counters: %w", err)
		}
		s.flusher = meter.NewFlusher(s.meter, s.meterStore, cfg.CheckpointInterval, s.logger)
	}

	s.receipts = receipts.NewEngine(s.signer, identity.Ed25519Verifier{}, s.meter, receiptStore, s.logger).
		WithTolerance(cfg.ReceiptToleranceBytes)

	s.strikes = strikes.New(cfg.StrikeWindow, map[strikes.Kind]int{
		strikes.BadHandshake: cfg.BadHandshakeThreshold,
		strikes.Implausible:  cfg.ImplausibleThreshold,
		strikes.Overflow:     1,
	})
	s.strikes.OnTrip(func(peer identity.PeerKey, kind strikes.Kind, count int) {
		s.logger.Warn("peer tripped violation threshold", "peer", peer.Short(), "kind", string(kind), "count", count)
	})

	s.auth = handshake.NewAuthenticator(identity.Ed25519Verifier{}, cfg.HandshakeChallengeTTL)
	s.admission = admission.New(s.registry, admission.TrustedReplicators{History: s.strikes}, s.logger)

	var err error
	s.limits, err = admission.LimitsFromMode(admission.LimitMode(cfg.LimitedMode),
		cfg.LimitedBytesPerSec, cfg.LimitedBurstBytes, cfg.LimitedCapBytes)
	if err != nil {
		return nil, err
	}

	localRole, err := admission.ParseRole(cfg.NodeRole)
	if err != nil {
		return nil, err
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	if s.transport == nil {
		s.transport = newDetachedTransport(s.logger)
		s.logger.Warn("no transport attached; admission and receipts are logged only")
	}

	s.sessions = session.NewManager(session.Config{
		LocalRole:           localRole,
		ReceiptEveryBytes:   cfg.ReceiptEveryBytes,
		ReceiptInterval:     cfg.ReceiptInterval,
		MaxUnreceiptedBytes: cfg.MaxUnreceiptedBytes,
		RegressionTolerance: cfg.RegressionTolerance,
		HandshakeTimeout:    cfg.HandshakeTimeout,
	}, session.Deps{
		Registry:  s.registry,
		Meter:     s.meter,
		Receipts:  s.receipts,
		Admission: s.admission,
		Auth:      s.auth,
		Limits:    s.limits,
		Strikes:   s.strikes,
		Transport: s.transport,
		Hub:       s.realtimeHub,
		Logger:    s.logger,
	})

	// Counters reset and receipts are superseded before sessions see a
	// lifecycle change.
	s.registry.Subscribe(s.meter)
	s.registry.Subscribe(s.receipts)
	s.registry.Subscribe(s.sessions)
	s.registry.Subscribe(realtime.ChannelEvents{Hub: s.realtimeHub})

	s.health = health.NewRegistry()
	s.health.Register("sessions", health.Accepting("sessions", s.sessions.Stopped))
	s.health.Register("channels", health.Count("channels", func() int { return len(s.registry.List()) }))
	if s.db != nil {
		s.health.Register("postgres", health.Database("postgres", s.db))
	}

	s.logger.Info("node identity", "peer", self.String(), "role", localRole.String())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func openDB(ctx context.Context, dsn string, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = retry.Startup.Named("postgres ping", logger).Do(ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
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

// Sessions returns the session manager, the entry point for transport events.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Registry returns the channel registry.
func (s *Server) Registry() *channels.Registry {
	return s.registry
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
	s.router.Use(security.CORSMiddleware(nil))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = s.cfg.RateLimitRPM / 6
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

	// WebSocket for accounting events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	v1 := s.router.Group("/v1")
	v1.Use(validation.KeyParamMiddleware("id", "peer", "key"))

	v1.GET("/node", s.nodeHandler)

	channelHandler := channels.NewHandler(s.registry)
	channelHandler.RegisterRoutes(v1)
	meter.NewHandler(s.meter).RegisterRoutes(v1)
	receipts.NewHandler(s.receipts).RegisterRoutes(v1)
	session.NewHandler(s.sessions).RegisterRoutes(v1)

	// Mutating routes belong to the channel lifecycle authority.
	protected := v1.Group("")
	protected.Use(security.RequireAdminToken(s.cfg.AdminToken))
	channelHandler.RegisterProtectedRoutes(protected)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) nodeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node": gin.H{
			"peer":    s.signer.PublicKey(),
			"role":    s.cfg.NodeRole,
			"version": Version,
		},
		"receipts": gin.H{
			"everyBytes":       s.cfg.ReceiptEveryBytes,
			"interval":         s.cfg.ReceiptInterval.String(),
			"toleranceBytes":   s.cfg.ReceiptToleranceBytes,
			"maxUnreceipted":   s.cfg.MaxUnreceiptedBytes,
			"regressionsAllow": s.cfg.RegressionTolerance,
		},
		"limited": gin.H{
			"mode":        s.cfg.LimitedMode,
			"bytesPerSec": s.cfg.LimitedBytesPerSec,
			"capBytes":    s.cfg.LimitedCapBytes,
		},
		"realtime": s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers, and blocks until a
// signal, ctx cancellation or a server error.
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
			"peer", s.signer.PublicKey().Short(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go s.sessions.Start(runCtx)
	s.health.Register("session_worker", health.Worker("session_worker", s.sessions.Running))

	if s.flusher != nil {
		go s.flusher.Start(runCtx)
		s.health.Register("checkpoint", health.Worker("checkpoint", s.flusher.Running))
	}
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
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. Sessions close first so no counter
// moves after the final checkpoint.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	s.sessions.Stop()

	if s.flusher != nil {
		s.flusher.Stop()
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.limits.Stop()

	if s.db != nil {
		// Let the flusher finish its final checkpoint.
		deadline := time.Now().Add(5 * time.Second)
		for s.flusher != nil && s.flusher.Running() && time.Now().Before(deadline) {
			time.Sleep(20 * time.Millisecond)
		}
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	if d, ok := s.signer.(interface{ Destroy() }); ok {
		d.Destroy()
	}

	s.healthy.Store(false)
	s.logger.Info("shutdown complete")
	return nil
}

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// generateRequestID creates a random request ID
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

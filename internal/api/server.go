// Package api exposes the daemon's HTTP surface: subject state and
// control operations, schedule editing, the audit trail, a websocket
// event stream, Prometheus metrics, and liveness.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/clock"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/engine"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/monitor"
	"github.com/waveworm/pfsense-toggle/internal/ratelimit"
	"github.com/waveworm/pfsense-toggle/internal/scheduler"
)

// DefaultRateLimitPerMinute caps per-IP request rates when the config
// does not set one.
const DefaultRateLimitPerMinute = 120

// ServerConfig holds HTTP server hardening knobs.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration // Slowloris prevention
	ReadTimeout       time.Duration // Body read limit
	WriteTimeout      time.Duration // Response timeout
	IdleTimeout       time.Duration // Keep-alive timeout
	MaxHeaderBytes    int           // Header size limit
	MaxBodyBytes      int64         // Request body size limit
}

// DefaultServerConfig returns secure default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16, // 64KB
		MaxBodyBytes:      1 << 20, // 1MB; the largest body is a schedule map
	}
}

// Server handles API requests.
type Server struct {
	cfg     *config.Config
	apiCfg  *config.APIConfig
	engine  *engine.Engine
	auditor *audit.Store
	monitor *monitor.Service
	tasks   *scheduler.Scheduler
	logger  *logging.Logger
	limiter *ratelimit.Limiter
	clk     clock.Clock

	startTime time.Time
	keys      *keyVerifier

	mux *http.ServeMux
	srv *http.Server
}

// ServerOptions holds dependencies for the API server. Audit, Monitor,
// and Scheduler are optional; their endpoints degrade gracefully.
type ServerOptions struct {
	Config    *config.Config
	Engine    *engine.Engine
	Audit     *audit.Store
	Monitor   *monitor.Service
	Scheduler *scheduler.Scheduler
	Logger    *logging.Logger
	Clock     clock.Clock
}

// NewServer creates a new API server with the provided options.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("api: config is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = &clock.RealClock{}
	}

	limiter := ratelimit.NewLimiter()
	limiter.StartCleanup(10*time.Minute, 1*time.Hour)

	apiCfg := opts.Config.API
	if apiCfg == nil {
		apiCfg = &config.APIConfig{}
	}

	s := &Server{
		cfg:       opts.Config,
		apiCfg:    apiCfg,
		engine:    opts.Engine,
		auditor:   opts.Audit,
		monitor:   opts.Monitor,
		tasks:     opts.Scheduler,
		logger:    logger.WithComponent("api"),
		limiter:   limiter,
		clk:       clk,
		startTime: clk.Now(),
		keys:      newKeyVerifier(apiCfg.APIKeyHash),
	}
	s.initRoutes()
	return s, nil
}

// initRoutes initializes the HTTP router.
func (s *Server) initRoutes() {
	mux := http.NewServeMux()
	s.mux = mux

	// Liveness and the scrape endpoint sit outside the key check so
	// probes keep working when a key is configured.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/subjects", s.handleSubjects)
	mux.HandleFunc("GET /api/subjects/{name}", s.handleSubject)
	mux.HandleFunc("POST /api/subjects/{name}/toggle", s.handleToggle)
	mux.HandleFunc("POST /api/subjects/{name}/allow", s.handleTimedAllow)
	mux.HandleFunc("DELETE /api/subjects/{name}/allow", s.handleCancelTimer)
	mux.HandleFunc("POST /api/subjects/{name}/skip", s.handleStartSkip)
	mux.HandleFunc("DELETE /api/subjects/{name}/skip", s.handleCancelSkip)
	mux.HandleFunc("POST /api/subjects/{name}/schedule/enable", s.handleScheduleEnable)
	mux.HandleFunc("POST /api/subjects/{name}/schedule/disable", s.handleScheduleDisable)

	mux.HandleFunc("GET /api/schedules", s.handleGetSchedules)
	mux.HandleFunc("PUT /api/schedules", s.handlePutSchedules)

	mux.HandleFunc("POST /api/all/allow", s.handleAllowAll)
	mux.HandleFunc("POST /api/all/block", s.handleBlockAll)
	mux.HandleFunc("POST /api/reconcile", s.handleReconcile)

	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/events", s.handleEvents)
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	// Chain: access log -> rate limit -> auth -> body cap -> mux
	h := s.maxBodyMiddleware(DefaultServerConfig().MaxBodyBytes)(s.mux)
	h = s.authMiddleware(h)
	h = s.rateLimitMiddleware(h)
	return s.loggingMiddleware(h)
}

// Start runs the server on the configured listen address. It blocks
// until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	cfg := DefaultServerConfig()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	s.logger.Info("api server starting", "addr", addr, "auth", s.keys.configured())
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// uptime reports how long the server has been running, rounded for
// display.
func (s *Server) uptime() time.Duration {
	return s.clk.Since(s.startTime).Round(time.Second)
}

// isReadOnly reports whether the request cannot change state.
func isReadOnly(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// rateLimitKey buckets clients by IP.
func rateLimitKey(r *http.Request) string {
	return "api:" + getClientIP(r)
}

// exemptFromLimit lists paths the limiter ignores: the scraper and
// liveness probes poll on their own schedule.
func exemptFromLimit(path string) bool {
	return path == "/metrics" || path == "/healthz" || strings.HasPrefix(path, "/api/events")
}

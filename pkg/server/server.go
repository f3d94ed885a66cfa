package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/routing"
	"mercator-hq/keyrelay/pkg/server/middleware"
	"mercator-hq/keyrelay/pkg/telemetry/metrics"
	"mercator-hq/keyrelay/pkg/telemetry/readiness"
	"mercator-hq/keyrelay/pkg/telemetry/tracing"
)

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server is already running")

// Router serves generation requests. Satisfied by *routing.Router.
type Router interface {
	Route(ctx context.Context, req *routing.Request) *routing.Result
	Stats() *routing.RoutingStats
	TierNames() []string
}

// KeyChecker probes one stored key. Satisfied by *health.Checker.
type KeyChecker interface {
	Check(ctx context.Context, id string) (health.Verdict, keys.KeyRecord, error)
}

// BatchRunner checks every stored key. Satisfied by *health.BatchChecker.
type BatchRunner interface {
	Run(ctx context.Context) (health.BatchReport, error)
	Running() bool
}

// ScheduleInfo reports the periodic checker's state. Satisfied by
// *health.Scheduler.
type ScheduleInfo interface {
	IsRunning() bool
	NextRun() *time.Time
}

// PolicyInfo reports the active rotation policy. Satisfied by *pool.Selector.
type PolicyInfo interface {
	Policy() string
}

// BuildInfo is served on /version.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Deps are the components the server exposes. Router, Store, Checker and
// Batch are required; the rest are optional.
type Deps struct {
	Router  Router
	Store   keys.Store
	Checker KeyChecker
	Batch   BatchRunner

	Scheduler ScheduleInfo
	Pool      PolicyInfo

	Readiness *readiness.Checker
	Metrics   *metrics.Collector
	Tracer    *tracing.Tracer

	// MetricsPath is where Prometheus metrics are served when Metrics is set.
	MetricsPath string

	Build BuildInfo
}

// Server is the relay's HTTP server.
type Server struct {
	config       *config.ServerConfig
	deps         Deps
	httpServer   *http.Server
	logger       *slog.Logger
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool

	// Background batch runs outlive their request but not the server.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewServer creates a server.
func NewServer(cfg *config.ServerConfig, deps Deps) *Server {
	if deps.Tracer == nil {
		deps.Tracer = tracing.Noop()
	}
	if deps.Readiness == nil {
		deps.Readiness = readiness.New(0)
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Server{
		config:       cfg,
		deps:         deps,
		logger:       slog.Default().With("component", "server"),
		shutdownChan: make(chan struct{}),
		bgCtx:        bgCtx,
		bgCancel:     bgCancel,
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled, a termination signal arrives, or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyRunning
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	case <-s.shutdownChan:
		return nil
	}
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		defer close(s.shutdownChan)

		s.mu.RLock()
		running, httpServer := s.isRunning, s.httpServer
		s.mu.RUnlock()
		if !running {
			s.bgCancel()
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.bgCancel()
		done := make(chan struct{})
		go func() {
			s.bgWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.Warn("background batch run still active at shutdown")
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// setupRoutes registers the routes and wraps them in the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	h := &handlers{deps: s.deps, bgCtx: s.bgCtx, bgWG: &s.bgWG, logger: s.logger}

	// route registers fn and labels its requests with the pattern's path,
	// keeping metric cardinality bounded by the route table.
	route := func(pattern string, fn http.HandlerFunc) {
		label := pattern
		if _, path, ok := strings.Cut(pattern, " "); ok {
			label = path
		}
		mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			middleware.SetRoute(r.Context(), label)
			fn(w, r)
		}))
	}

	route("POST /v1/generate", h.generate)

	route("GET /api/keys", h.listKeys)
	route("POST /api/keys", h.addKey)
	route("POST /api/keys/check", h.checkAll)
	route("GET /api/keys/{id}", h.getKey)
	route("DELETE /api/keys/{id}", h.deleteKey)
	route("POST /api/keys/{id}/toggle", h.toggleKey)
	route("POST /api/keys/{id}/check", h.checkKey)
	route("GET /api/stats", h.stats)

	route("GET /health", s.deps.Readiness.LivenessHandler())
	route("GET /ready", s.deps.Readiness.ReadinessHandler())
	route("GET /version", readiness.VersionHandler(s.deps.Build.Version, s.deps.Build.Commit, s.deps.Build.BuildTime))

	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		metricsHandler := s.deps.Metrics.Handler()
		route("GET "+path, metricsHandler.ServeHTTP)
	}

	var handler http.Handler = mux
	handler = middleware.BodyLimit(s.config.MaxBodyBytes)(handler)
	handler = middleware.CORS(&s.config.CORS)(handler)
	if s.deps.Tracer.Enabled() {
		handler = s.deps.Tracer.HTTPMiddleware(handler)
	}

	var recorder middleware.RequestRecorder
	if s.deps.Metrics != nil {
		recorder = s.deps.Metrics
	}
	handler = middleware.Logging(recorder)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

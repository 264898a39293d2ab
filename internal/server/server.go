package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/collector"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/handler"
	"github.com/querylens/querylens/internal/openapi"
	"github.com/querylens/querylens/internal/server/middleware"
	"github.com/querylens/querylens/internal/service"
	"github.com/querylens/querylens/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// RequireAuth gates the API behind API keys and bearer tokens.
	RequireAuth bool

	// RateLimitPerMinute limits requests per client IP. Zero disables.
	RateLimitPerMinute int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ShutdownTimeout:    30 * time.Second,
		CORSOrigins:        []string{"*"},
		RateLimitPerMinute: 60,
	}
}

// Server is the top-level HTTP server. It owns the chi router, the
// explanation service, the durable store, and the authentication service.
type Server struct {
	cfg        Config
	router     chi.Router
	explainSvc *explain.Service
	store      *store.Store
	authSvc    *service.AuthService
	collector  *collector.Collector
	cacheStats func() cache.Stats
	backend    string
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps bundles everything the server serves. Store, AuthSvc, Collector and
// CacheStats may be nil depending on configuration.
type Deps struct {
	ExplainSvc *explain.Service
	Store      *store.Store
	AuthSvc    *service.AuthService
	Collector  *collector.Collector
	CacheStats func() cache.Stats

	// BackendName is reported by the readiness probe.
	BackendName string
}

// New creates a Server, wires up all routes and middleware, and returns it
// ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		explainSvc: deps.ExplainSvc,
		store:      deps.Store,
		authSvc:    deps.AuthSvc,
		collector:  deps.Collector,
		cacheStats: deps.CacheStats,
		backend:    deps.BackendName,
		logger:     logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// Health checks and the API document are never authenticated.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", s.handleOpenAPI)

	explainHandler := handler.NewExplainHandler(s.explainSvc, s.cacheStats, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitPerMinute > 0 {
			// With auth on, limit per credential rather than per IP so
			// clients behind a shared NAT get independent budgets.
			if s.cfg.RequireAuth {
				r.Use(middleware.RateLimitByAPIKey(s.cfg.RateLimitPerMinute))
			} else {
				r.Use(middleware.RateLimit(s.cfg.RateLimitPerMinute))
			}
		}
		if s.cfg.RequireAuth && s.authSvc != nil {
			r.Use(middleware.Authenticate(s.authSvc))
		}

		r.Post("/explain", explainHandler.Explain)
		r.Get("/fingerprint", explainHandler.Fingerprint)
		r.Get("/cache/stats", explainHandler.CacheStats)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 when it isn't. The generative backend is reported but
// never probed; a failing backend surfaces per request as 502.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			checks["store"] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks["store"] = "ok"
		}
	}
	if s.collector != nil {
		for _, name := range s.collector.Targets() {
			checks["target:"+name] = "configured"
		}
	}
	checks["backend"] = s.backend

	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc := openapi.GenerateSpec(scheme + "://" + r.Host)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or
// SIGTERM is received. It then performs a graceful shutdown, draining
// in-flight requests and pending persistence writes before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr, "backend", s.backend)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let detached persistence writes land before closing the store.
	s.explainSvc.Wait()
	if s.collector != nil {
		s.collector.Close()
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

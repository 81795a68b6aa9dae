package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/strataplatform/api-gateway/internal/config"
	"github.com/strataplatform/api-gateway/internal/counter"
	"github.com/strataplatform/api-gateway/internal/token"
)

// Server is the gateway's HTTP front. It owns the router, the middleware
// chain and the reverse proxies, and drives the listen/drain lifecycle.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
	metrics    *Metrics
}

// New assembles the gateway from validated configuration. A nil store
// disables rate limiting (fail-open was decided at startup).
func New(cfg *config.Config, logger *slog.Logger, store counter.Store) (*Server, error) {
	validator, err := token.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("token validator: %w", err)
	}

	backends := make(map[string]*url.URL, 3)
	for name, raw := range map[string]string{
		"auth":    cfg.Backends.AuthURL,
		"user":    cfg.Backends.UserURL,
		"content": cfg.Backends.ContentURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%s backend url: %w", name, err)
		}
		backends[name] = u
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: NewMetrics(),
	}

	authProxy := newBackendProxy("auth", backends["auth"], cfg.Backends.Timeout, logger, s.metrics)
	userProxy := newBackendProxy("user", backends["user"], cfg.Backends.Timeout, logger, s.metrics)
	contentProxy := newBackendProxy("content", backends["content"], cfg.Backends.Timeout, logger, s.metrics)

	var limiter *RateLimiter
	if store != nil {
		limiter = NewRateLimiter(store, cfg.RateLimit.RequestsPerMinute, time.Minute, logger, s.metrics)
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, ReasonNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, ReasonMethodNotAllowed)
	})

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(s.metrics.Middleware)
	r.Use(middleware.Recoverer)

	// Health and metrics bypass rate limiting, CORS and auth.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Use(CORSMiddleware(cfg.AllowedOrigins()))

		// Public: the auth backend's own endpoints.
		r.Handle("/api/v1/auth", authProxy)
		r.Handle("/api/v1/auth/*", authProxy)

		// Protected: bearer token required.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(validator))

			r.Handle("/api/v1/users", userProxy)
			r.Handle("/api/v1/users/*", userProxy)
			r.Handle("/api/v1/content", contentProxy)
			r.Handle("/api/v1/content/*", contentProxy)

			// Admin-protected: static segments outrank the wildcards above.
			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				r.Handle("/api/v1/users/admin", userProxy)
				r.Handle("/api/v1/users/admin/*", userProxy)
				r.Handle("/api/v1/content/admin", contentProxy)
				r.Handle("/api/v1/content/admin/*", contentProxy)
			})
		})
	})

	s.router = r
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(r, "api-gateway"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Writes must outlast the backend timeout so 504s reach the caller.
		WriteTimeout: cfg.Backends.Timeout + 10*time.Second,
		IdleTimeout:  90 * time.Second,
	}

	return s, nil
}

// Router exposes the assembled handler chain for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Listen binds the configured port. A bind failure is fatal to the
// process, so it is surfaced before serving starts.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address. Nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections on the bound listener until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("gateway listening",
		slog.String("addr", s.listener.Addr().String()),
		slog.String("env", s.cfg.Server.Env),
	)

	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start binds the configured port and serves until Shutdown.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown drains in-flight requests until ctx expires, then forcibly
// closes whatever remains. http.Server tracks active connections, so the
// drain completes as soon as the last in-flight request finishes rather
// than sleeping out the grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("draining in-flight requests")
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("grace period elapsed, closing remaining connections")
		return s.httpServer.Close()
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "api-gateway",
	})
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqckeys.
//
// go-pqckeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/auth"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/correlation"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
)

// Server represents the REST API server.
type Server struct {
	server    *http.Server
	handlers  *HandlerContext
	tlsConfig *tls.Config
	limiter   *ratelimit.Limiter
	logger    logger.Logger

	authenticator auth.Authenticator

	metricsPath string
	healthPath  string

	mu       sync.Mutex
	listener net.Listener
}

// Config holds the REST server configuration.
type Config struct {
	// Service is the key service to publish. Required.
	Service *keychain.Service

	// Addr is the listen address (default: 127.0.0.1:8480)
	Addr string

	// Version is the API version string
	Version string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Limiter throttles requests per client IP (optional)
	Limiter *ratelimit.Limiter

	// MetricsPath serves Prometheus metrics when set, e.g. "/metrics"
	MetricsPath string

	// HealthPath is the prefix of the probe endpoints (default: /health)
	HealthPath string

	// Audit serves GET /api/v1/audit when set (optional)
	Audit AuditReader

	// Authenticator guards POST /api/v1/announcements and GET /api/v1/audit.
	// Without one those routes answer 401.
	Authenticator auth.Authenticator

	// Logger is the logging adapter (optional)
	Logger logger.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("a key service is required")
	}

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8480"
	}
	if cfg.Version == "" {
		cfg.Version = keychain.Version()
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewSlogAdapter(&logger.SlogConfig{
			Level: logger.LevelInfo,
		})
	}

	handlers := NewHandlerContext(cfg.Service, cfg.Version, log)
	handlers.Audit = cfg.Audit

	server := &Server{
		handlers:      handlers,
		tlsConfig:     cfg.TLSConfig,
		limiter:       cfg.Limiter,
		logger:        log,
		authenticator: cfg.Authenticator,
		metricsPath:   cfg.MetricsPath,
		healthPath:    cfg.HealthPath,
	}

	server.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.setupRouter(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}
	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)

	// Probes and metrics are exempt from rate limiting.
	r.Get(s.healthPath, s.handlers.HealthHandler)
	r.Head(s.healthPath, s.handlers.HealthHandler)
	r.Get(s.healthPath+"/live", s.handlers.LivenessHandler)
	r.Get(s.healthPath+"/ready", s.handlers.ReadinessHandler)
	r.Get(s.healthPath+"/startup", s.handlers.StartupHandler)
	if s.metricsPath != "" {
		r.Method(http.MethodGet, s.metricsPath, metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.RateLimitMiddleware())

		r.Get("/version", s.handlers.VersionHandler)

		r.Get("/accounts/{account}/keys", s.handlers.AccountKeysHandler)
		r.Get("/accounts/{account}/keys/{kind}", s.handlers.PublicKeyHandler)
		r.Get("/accounts/{account}/announcement", s.handlers.AnnouncementPayloadHandler)

		r.Get("/contacts/{contact}", s.handlers.ContactHandler)
		r.Get("/contacts/{contact}/keys/{kind}", s.handlers.ContactKeyHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.AuthenticationMiddleware())

			r.Post("/announcements", s.handlers.IngestHandler)
			r.Get("/audit", s.handlers.AuditHandler)
		})
	})

	return r
}

// Handler returns the server's router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Wrap installs mw around the router for the TCP listener. Call it before
// Start.
func (s *Server) Wrap(mw func(http.Handler) http.Handler) {
	s.server.Handler = mw(s.server.Handler)
}

// Start listens on the configured address and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. It returns nil after a graceful Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	scheme := "HTTP"
	if s.tlsConfig != nil {
		scheme = "HTTPS"
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.logger.Info("Starting "+scheme+" server", logger.String("addr", ln.Addr().String()))

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start %s server: %w", scheme, err)
	}
	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// SetHealthChecker sets the health checker for the server.
func (s *Server) SetHealthChecker(checker HealthChecker) {
	s.handlers.SetHealthChecker(checker)
}

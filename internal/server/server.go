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

// Package server runs the pqckeys daemon: the key service, the REST key
// directory, health probes and the metrics collector.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-pqckeys/internal/bootstrap"
	"github.com/jeremyhahn/go-pqckeys/internal/config"
	"github.com/jeremyhahn/go-pqckeys/internal/quic"
	"github.com/jeremyhahn/go-pqckeys/internal/rest"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/auth"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/health"
	"github.com/jeremyhahn/go-pqckeys/pkg/keychain"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
)

const (
	// MaxPendingOutbox is the outbox backlog above which the daemon
	// reports itself degraded.
	MaxPendingOutbox = 1000

	collectorInterval = 15 * time.Second
)

// Server owns everything the daemon runs.
type Server struct {
	config *config.Config
	mu     sync.RWMutex
	app    *bootstrap.App
	logger logger.Logger

	restServer       *rest.Server
	quicServer       *quic.Server
	limiter          *ratelimit.Limiter
	healthChecker    *health.Checker
	metricsCollector *metrics.ResourceCollector

	ctx          context.Context
	cancel       context.CancelFunc
	errCh        chan error
	shutdownOnce sync.Once
	shutdownErr  error
}

// New opens the key service and builds the REST server. cfg must already
// be validated.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	app, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		app:    app,
		logger: app.Logger,
		errCh:  make(chan error, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.initializeHealth()

	if cfg.Server.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	if cfg.Server.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMin,
			Burst:             cfg.Server.RateLimit.Burst,
		})
	}

	restCfg := &rest.Config{
		Service:      app.Service,
		Addr:         cfg.Server.ListenAddr(),
		Version:      keychain.Version(),
		Limiter:      s.limiter,
		HealthPath:   cfg.Server.Health.Path,
		Logger:       app.Logger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if cfg.Server.Metrics.Enabled {
		restCfg.MetricsPath = cfg.Server.Metrics.Path
	}
	if history := app.AuditHistory(); history != nil {
		restCfg.Audit = history
	}
	fail := func(err error) (*Server, error) {
		s.cancel()
		_ = app.Close()
		if s.limiter != nil {
			s.limiter.Stop()
		}
		return nil, err
	}

	if len(cfg.Server.Auth.APIKeys) == 0 {
		app.Logger.Warn("No server.auth.api_keys configured; announcement and audit routes will reject every request")
	} else {
		authenticator, err := newAuthenticator(cfg.Server.Auth)
		if err != nil {
			return fail(err)
		}
		restCfg.Authenticator = authenticator
	}

	if cfg.Server.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return fail(fmt.Errorf("failed to load TLS key pair: %w", err))
		}
		restCfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	s.restServer, err = rest.NewServer(restCfg)
	if err != nil {
		return fail(err)
	}

	if cfg.Server.QUIC.Enabled {
		s.quicServer, err = quic.NewServer(&quic.Config{
			Addr:      cfg.Server.QUICAddr(),
			TLSConfig: restCfg.TLSConfig,
			Handler:   s.restServer.Handler(),
			Logger:    app.Logger,
		})
		if err != nil {
			return fail(err)
		}
		s.restServer.Wrap(s.quicServer.AltSvc)
	}
	if cfg.Server.Health.Enabled {
		s.restServer.SetHealthChecker(s.healthChecker)
	}
	return s, nil
}

// initializeHealth registers the readiness checks.
func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck("storage", health.StorageCheck(s.app.Storage()))
	s.healthChecker.RegisterCheck("keystores", health.KeyStoreCheck(s.app.Registry().Kinds))

	var pending func() ([]string, error)
	if outbox := s.app.Outbox(); outbox != nil {
		pending = outbox.Pending
	}
	s.healthChecker.RegisterCheck("outbox", health.OutboxCheck(pending, MaxPendingOutbox))
}

// Start starts the collector and the listeners in the background and
// marks the daemon started. Serve errors are reported by Wait.
func (s *Server) Start() error {
	s.logger.Info("Starting pqckeys daemon",
		logger.String("addr", s.config.Server.ListenAddr()),
		logger.String("version", keychain.Version()))

	if s.config.Server.Metrics.Enabled {
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, collectorInterval)
	}

	go func() {
		if err := s.restServer.Start(); err != nil {
			s.reportError(err)
		}
	}()
	if s.quicServer != nil {
		go func() {
			if err := s.quicServer.Start(); err != nil {
				s.reportError(err)
			}
		}()
	}

	s.healthChecker.MarkStarted()
	s.logger.Info("pqckeys daemon started")
	return nil
}

// Wait blocks until ctx is done or the REST server fails.
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.errCh:
		return err
	}
}

// Shutdown stops serving, waits up to the configured shutdown timeout for
// in-flight requests and closes the key service. It is safe to call more
// than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down pqckeys daemon...")
		s.healthChecker.MarkNotStarted()

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var errs []error
		if err := s.restServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.quicServer != nil {
			if err := s.quicServer.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.metricsCollector != nil {
			s.metricsCollector.Stop()
		}
		s.cancel()
		if s.limiter != nil {
			s.limiter.Stop()
		}

		s.mu.Lock()
		if err := s.app.Close(); err != nil {
			s.logger.Error("Error closing key service", logger.Error(err))
			errs = append(errs, fmt.Errorf("close key service: %w", err))
		}
		s.mu.Unlock()

		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("pqckeys daemon shutdown complete")
	})
	return s.shutdownErr
}

// reportError hands the first serve error to Wait.
func (s *Server) reportError(err error) {
	select {
	case s.errCh <- err:
	default:
		s.logger.Error("Server error", logger.Error(err))
	}
}

// QUICServer returns the HTTP/3 server, or nil when disabled.
func (s *Server) QUICServer() *quic.Server {
	return s.quicServer
}

// Addr returns the REST server's listen address.
func (s *Server) Addr() string {
	return s.restServer.Addr()
}

// RESTServer returns the REST server instance
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}

// HealthChecker returns the daemon's health checker.
func (s *Server) HealthChecker() *health.Checker {
	return s.healthChecker
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM and
// a channel that receives SIGHUP.
func SetupSignalHandler() (context.Context, <-chan os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	go func() {
		<-stopCh
		cancel()
	}()

	return ctx, hupCh
}

// newAuthenticator builds the API key authenticator for the write routes.
func newAuthenticator(cfg config.AuthConfig) (*auth.APIKeyAuthenticator, error) {
	a, err := auth.NewAPIKeyAuthenticator(nil)
	if err != nil {
		return nil, err
	}
	for _, k := range cfg.APIKeys {
		key := k.Resolve()
		if key == "" {
			return nil, fmt.Errorf("server.auth.api_keys[%s]: %s is not set", k.Name, k.KeyEnv)
		}
		identity := &auth.Identity{
			Subject:    k.Name,
			Senders:    k.Senders,
			Attributes: map[string]string{"key_name": k.Name},
		}
		if err := a.AddKey(key, identity); err != nil {
			return nil, fmt.Errorf("server.auth.api_keys[%s]: %w", k.Name, err)
		}
	}
	return a, nil
}

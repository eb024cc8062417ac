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

// Package quic serves the key directory over HTTP/3.
//
// The handler is the same router the TCP listener uses; this package only
// owns the UDP socket and the http3.Server around it. TLS 1.3 is required.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go/http3"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
)

// DefaultAddr is used when Config.Addr is empty.
const DefaultAddr = "127.0.0.1:8443"

// Server represents a QUIC/HTTP3 server
type Server struct {
	addr   string
	logger logger.Logger
	server *http3.Server

	mu   sync.Mutex
	conn net.PacketConn
}

// Config holds the QUIC server configuration
type Config struct {
	Addr string

	// TLSConfig must carry a server certificate. Required.
	TLSConfig *tls.Config

	// Handler serves every request. Required.
	Handler http.Handler

	Logger logger.Logger
}

// NewServer creates a new QUIC/HTTP3 server
func NewServer(config *Config) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.Handler == nil {
		return nil, fmt.Errorf("a handler is required")
	}
	if config.TLSConfig == nil || (len(config.TLSConfig.Certificates) == 0 && config.TLSConfig.GetCertificate == nil) {
		return nil, fmt.Errorf("a TLS certificate is required for HTTP/3")
	}

	addr := config.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}

	tlsConfig := config.TLSConfig.Clone()
	tlsConfig.MinVersion = tls.VersionTLS13

	return &Server{
		addr:   addr,
		logger: log,
		server: &http3.Server{
			Addr:      addr,
			Handler:   config.Handler,
			TLSConfig: http3.ConfigureTLSConfig(tlsConfig),
		},
	}, nil
}

// Start listens on the configured UDP address and serves until Stop.
func (s *Server) Start() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(conn)
}

// Serve serves HTTP/3 on conn. It returns nil after Stop.
func (s *Server) Serve(conn net.PacketConn) error {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Starting QUIC/HTTP3 server", logger.String("addr", conn.LocalAddr().String()))
	err := s.server.Serve(conn)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to serve HTTP/3: %w", err)
	}
	return nil
}

// Stop closes the server and its socket. In-flight requests are aborted
// once ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping QUIC server")

	done := make(chan error, 1)
	go func() { done <- s.server.Close() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Error("Failed to close QUIC server", logger.Error(err))
		return err
	}
	s.logger.Info("QUIC server stopped")
	return nil
}

// Addr returns the bound address once serving, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}

// AltSvc returns middleware that advertises this server on TCP responses
// so clients can upgrade to HTTP/3.
func (s *Server) AltSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.server.SetQUICHeaders(w.Header()); err != nil {
			s.logger.Debug("Alt-Svc header not set", logger.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

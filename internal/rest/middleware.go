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
	"net/http"
	"time"

	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/auth"
	"github.com/jeremyhahn/go-pqckeys/pkg/adapters/logger"
	"github.com/jeremyhahn/go-pqckeys/pkg/metrics"
	"github.com/jeremyhahn/go-pqckeys/pkg/ratelimit"
	"github.com/jeremyhahn/go-pqckeys/pkg/validation"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// newResponseWriter creates a new responseWriter.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// LoggingMiddleware logs HTTP requests with the request's correlation ID.
func (s *Server) LoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			log := logger.WithContext(r.Context(), s.logger).With(
				logger.String("method", r.Method),
				logger.String("path", validation.SanitizeForLog(r.URL.Path)),
				logger.String("client", ratelimit.ClientIP(r)))

			log.Debug("Request started")
			next.ServeHTTP(wrapped, r)

			log.Info("Request completed",
				logger.Int("status", wrapped.statusCode),
				logger.String("duration", time.Since(start).String()))
		})
	}
}

// CORSMiddleware adds CORS headers to responses. The directory is read
// mostly by browsers and mail clients fetching public keys.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func (s *Server) RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.WithContext(r.Context(), s.logger).Error("Panic recovered",
						logger.String("method", r.Method),
						logger.String("path", validation.SanitizeForLog(r.URL.Path)),
						logger.Any("panic", err))
					writeErrorWithMessage(w, ErrInternalError, "An unexpected error occurred", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware rejects clients that exceed the limiter's budget.
// A nil or disabled limiter lets every request through.
func (s *Server) RateLimitMiddleware() func(http.Handler) http.Handler {
	return ratelimit.Middleware(s.limiter, http.HandlerFunc(s.rejectRateLimited))
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	metrics.RecordRateLimited()
	logger.WithContext(r.Context(), s.logger).Warn("Rate limit exceeded",
		logger.String("client", ratelimit.ClientIP(r)))
	w.Header().Set("Retry-After", "60")
	writeError(w, ErrRateLimited, http.StatusTooManyRequests)
}

// AuthenticationMiddleware authenticates HTTP requests. Without an
// authenticator every request is rejected.
func (s *Server) AuthenticationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.authenticator == nil {
				writeErrorWithMessage(w, ErrUnauthorized, "Authentication is not configured", http.StatusUnauthorized)
				return
			}

			identity, err := s.authenticator.AuthenticateHTTP(r)
			if err != nil {
				s.logger.Warn("Authentication failed",
					logger.String("method", r.Method),
					logger.String("path", r.URL.Path),
					logger.String("remote_addr", r.RemoteAddr),
					logger.Error(err))
				writeErrorWithMessage(w, ErrUnauthorized, "Authentication failed", http.StatusUnauthorized)
				return
			}

			s.logger.Debug("Request authenticated",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.String("subject", identity.Subject))

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

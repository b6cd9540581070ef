// Copyright 2026 The Switchboard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/telkins/switchboard/internal/httputil"
	"github.com/telkins/switchboard/internal/log"
)

// admissionMiddleware is the readiness/drain gate at the request boundary.
// When the gate is closed the request is rejected with 503 before any
// request-scoped work begins; the active counter is untouched. When open,
// the counter is incremented and — on every exit path, including a handler
// panic — decremented.
func (s *Server) admissionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Gate.Admit() {
			s.metrics.rejected.Inc()
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, http.StatusServiceUnavailable, "switchboard is shutting down")
			return
		}
		defer s.cfg.Gate.Release()

		s.metrics.admitted.Inc()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates Bearer token authentication. A nil key disables
// it.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		provided := strings.TrimPrefix(auth, "Bearer ")
		// Constant-time comparison to prevent timing attacks.
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies per-client token-bucket rate limiting.
// Clients are keyed by remote IP. Disabled when the configured rate is zero.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.cfg.RateLimit <= 0 {
		return next
	}

	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 10
	}

	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
			limiters[key] = l
		}
		return l
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !limiterFor(host).Allow() {
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with a generated request ID.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		log.WithRequestID(s.logger, requestID).Info("request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	})
}

// recoveryMiddleware catches handler panics and returns 500. Request-level
// panics are contained here; they do not bring the daemon down.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path))
				httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the response status for logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap for http.Flusher support on streaming responses.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

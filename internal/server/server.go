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

// Package server provides the switchboard HTTP listener: the gateway routes,
// the request-admission middleware, and the loopback administrative surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/telkins/switchboard/internal/config"
	"github.com/telkins/switchboard/internal/lifecycle"
	"github.com/telkins/switchboard/internal/log"
)

// Config holds the settings used to create a Server.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string

	// APIKey is the expected Bearer token for inbound requests. Empty
	// disables authentication.
	APIKey string

	// AllowRemote permits binding to non-loopback addresses.
	AllowRemote bool

	// RateLimit / RateBurst configure per-client admission rate limiting.
	// RateLimit zero disables it.
	RateLimit float64
	RateBurst int

	// Upstream serves the gateway routes (chat completions, embeddings,
	// messages, models, usage, token). Required.
	Upstream http.Handler

	// Models are the model identifiers advertised on /v1/models.
	Models []string

	// Gate is the readiness/drain admission gate owned by the lifecycle
	// controller. Required.
	Gate *lifecycle.Gate

	// OnShutdownRequest is invoked (in its own goroutine) when the
	// loopback administrative shutdown endpoint is hit. Required.
	OnShutdownRequest func(reason string)

	// OnFatal receives unrecoverable serve-loop errors. Required.
	OnFatal func(err error)

	// Version is reported on the health endpoint.
	Version string

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// FromAppConfig builds a server Config from the application configuration.
// The caller fills in the collaborator fields (Upstream, Gate, callbacks).
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		Addr:        cfg.Server.Addr,
		APIKey:      cfg.Server.APIKey,
		AllowRemote: cfg.Server.AllowRemote,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
		Models:      cfg.Upstream.Models,
	}
}

// Server is the switchboard HTTP front-end. Use New to create an instance,
// Bind to claim the listen address, and Serve to start serving. Bind and
// Serve are split so the lifecycle controller can treat a bind failure as a
// start failure while serving continues in the background.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics

	ln   net.Listener
	http *http.Server
}

// New creates a Server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		logger:  log.WithComponent(cfg.Logger, "server"),
		metrics: newMetrics(cfg.Gate),
	}
	if cfg.APIKey != "" {
		s.logger.Debug("bearer auth enabled",
			slog.String("api_key", log.SanitizeAPIKey(cfg.APIKey)))
	}
	s.http = &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own deadlines
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Bind claims the configured listen address. Non-loopback addresses are
// refused unless AllowRemote is set: the gateway republishes credentials
// and must not be exposed to the network by accident.
func (s *Server) Bind() error {
	if !s.cfg.AllowRemote && isRemoteAddr(s.cfg.Addr) {
		return fmt.Errorf(
			"binding to %s exposes the gateway to the network; set server.allow_remote to accept the risk",
			s.cfg.Addr)
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address. Valid after Bind.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Serve starts serving on the bound listener in a background goroutine.
// A serve-loop failure is routed to the OnFatal callback.
func (s *Server) Serve() {
	go func() {
		if err := s.http.Serve(s.ln); err != nil && err != http.ErrServerClosed {
			s.cfg.OnFatal(fmt.Errorf("serve loop failed: %w", err))
		}
	}()
}

// Shutdown closes the HTTP server, waiting for in-flight connections up to
// the context deadline. Registered by the daemon as a lifecycle hook.
func (s *Server) Shutdown(ctx context.Context) error {
	s.http.SetKeepAlivesEnabled(false)
	return s.http.Shutdown(ctx)
}

// isRemoteAddr returns true if the address binds to non-loopback interfaces.
func isRemoteAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		if strings.HasPrefix(addr, ":") {
			host = ""
		}
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		return true
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return false
	}
	return true
}

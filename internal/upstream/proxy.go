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

// Package upstream forwards gateway requests to the AI provider API,
// replacing the caller's credentials with the daemon's own token.
package upstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	internalhttp "github.com/telkins/switchboard/internal/httputil"
)

// TokenSource supplies the current upstream credential.
type TokenSource interface {
	Token() (*oauth2.Token, bool)
}

// Config configures the upstream proxy.
type Config struct {
	// BaseURL is the upstream API root, e.g. https://api.githubcopilot.com.
	BaseURL string

	// Tokens supplies the credential injected on forwarded requests.
	// Optional: when nil, requests are forwarded without an Authorization
	// header (for upstreams fronted elsewhere).
	Tokens TokenSource

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Proxy is a reverse proxy to the upstream API. Responses are streamed
// unbuffered so server-sent events reach the client as they arrive.
type Proxy struct {
	target *url.URL
	tokens TokenSource
	logger *slog.Logger
	rp     *httputil.ReverseProxy
}

// New creates the proxy. The base URL must be absolute.
func New(cfg Config) (*Proxy, error) {
	target, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", cfg.BaseURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Proxy{
		target: target,
		tokens: cfg.Tokens,
		logger: logger,
	}

	p.rp = &httputil.ReverseProxy{
		Director: p.direct,
		// Negative means flush after every write, which keeps SSE
		// streams flowing instead of buffering whole events.
		FlushInterval: -1,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
		},
		ErrorHandler: p.handleError,
	}
	return p, nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// direct rewrites the request for the upstream host. The local bearer
// credential is stripped and replaced with the daemon's token.
func (p *Proxy) direct(r *http.Request) {
	r.URL.Scheme = p.target.Scheme
	r.URL.Host = p.target.Host
	r.Host = p.target.Host

	r.Header.Del("Authorization")
	if p.tokens != nil {
		if tok, ok := p.tokens.Token(); ok {
			tok.SetAuthHeader(r)
		}
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	p.logger.Error("upstream request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"upstream", p.target.Host,
		"error", err,
	)
	internalhttp.WriteError(w, http.StatusBadGateway, "upstream unavailable")
}

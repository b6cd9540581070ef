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
	"net"
	"net/http"
	"runtime"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/telkins/switchboard/internal/httputil"
)

// handler assembles the full middleware and route stack.
//
// Gateway routes sit behind the admission gate so that the active-request
// counter reflects exactly the work admitted before a drain begins. The
// health, metrics, and administrative endpoints bypass the gate: they must
// stay reachable while draining.
func (s *Server) handler() http.Handler {
	gw := http.NewServeMux()
	gw.Handle("POST /v1/chat/completions", s.cfg.Upstream)
	gw.Handle("POST /v1/embeddings", s.cfg.Upstream)
	gw.Handle("POST /v1/messages", s.cfg.Upstream)
	gw.Handle("GET /usage", s.cfg.Upstream)
	gw.Handle("POST /token", s.cfg.Upstream)
	gw.HandleFunc("GET /v1/models", s.handleModels)

	var admitted http.Handler = gw
	admitted = s.rateLimitMiddleware(admitted)
	admitted = authMiddleware(s.cfg.APIKey, admitted)
	admitted = s.admissionMiddleware(admitted)

	root := http.NewServeMux()
	root.Handle("/", admitted)
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("GET /metrics", s.metrics.handler())
	root.HandleFunc("POST /admin/shutdown", s.handleShutdown)

	var h http.Handler = root
	h = s.loggingMiddleware(h)
	h = s.recoveryMiddleware(h)
	return h
}

// healthResponse is the payload of GET /healthz.
type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Runtime   string `json:"runtime"`
	Timestamp string `json:"timestamp"`
}

// handleHealth handles GET /healthz. It reports draining with 503 so that
// load checks and the CLI can distinguish "up" from "going away", while the
// endpoint itself stays reachable throughout the drain.
func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.cfg.Gate.Ready() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, code, healthResponse{
		Status:    status,
		Version:   s.cfg.Version,
		Runtime:   runtime.Version(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleModels handles GET /v1/models from the configured model list.
func (s *Server) handleModels(w http.ResponseWriter, req *http.Request) {
	models := make([]openai.Model, 0, len(s.cfg.Models))
	for _, id := range s.cfg.Models {
		models = append(models, openai.Model{
			ID:      id,
			Object:  "model",
			OwnedBy: "switchboard",
		})
	}
	httputil.WriteJSON(w, http.StatusOK, openai.ModelsList{Models: models})
}

// handleShutdown handles POST /admin/shutdown. Loopback-only. It
// acknowledges immediately and triggers the drain concurrently, so the
// acknowledgement is never caught in its own shutdown.
func (s *Server) handleShutdown(w http.ResponseWriter, req *http.Request) {
	if !isLoopbackRequest(req) {
		httputil.WriteError(w, http.StatusForbidden, "shutdown is only accepted from loopback")
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "shutting down",
	})

	go s.cfg.OnShutdownRequest("admin")
}

// isLoopbackRequest reports whether the request arrived over a loopback
// address.
func isLoopbackRequest(req *http.Request) bool {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

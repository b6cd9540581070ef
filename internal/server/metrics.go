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
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telkins/switchboard/internal/lifecycle"
)

// metrics holds the Prometheus instrumentation for the admission path.
// Each server owns its registry so tests can build servers independently.
type metrics struct {
	registry *prometheus.Registry
	admitted prometheus.Counter
	rejected prometheus.Counter
}

func newMetrics(gate *lifecycle.Gate) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_requests_admitted_total",
			Help: "Requests admitted past the readiness gate.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_requests_rejected_total",
			Help: "Requests rejected because the gate was closed.",
		}),
	}

	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "switchboard_requests_active",
		Help: "In-flight admitted requests.",
	}, func() float64 {
		return float64(gate.Active())
	})

	m.registry.MustRegister(m.admitted, m.rejected, active)
	return m
}

// handler returns the /metrics endpoint handler.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

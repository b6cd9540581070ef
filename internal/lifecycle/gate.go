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

package lifecycle

import "sync/atomic"

// Gate is the readiness and drain gate shared between the lifecycle
// controller and the request-admission boundary.
//
// The controller is the only writer of the readiness flag; the admission
// middleware is the only mutator of the active-request counter. Readiness is
// consulted before any request-scoped work begins: a rejected request never
// touches the counter, so during drain the counter reflects exactly the
// requests admitted before the gate closed.
type Gate struct {
	ready  atomic.Bool
	active atomic.Int64
}

// NewGate creates a Gate. Readiness defaults to true; the controller closes
// it when draining begins.
func NewGate() *Gate {
	g := &Gate{}
	g.ready.Store(true)
	return g
}

// SetReady sets the readiness flag. Controller-only writer.
func (g *Gate) SetReady(ready bool) {
	g.ready.Store(ready)
}

// Ready reports whether new requests may be admitted.
func (g *Gate) Ready() bool {
	return g.ready.Load()
}

// Admit attempts to admit one request. When the gate is open it increments
// the active counter and returns true; the caller must pair every successful
// Admit with exactly one Release on every exit path. When the gate is closed
// it returns false without touching the counter.
func (g *Gate) Admit() bool {
	if !g.ready.Load() {
		return false
	}
	g.active.Add(1)
	return true
}

// Release records completion of an admitted request.
func (g *Gate) Release() {
	if n := g.active.Add(-1); n < 0 {
		// Unbalanced Release is a programming error; clamp rather than
		// let the drain wait observe a negative count.
		g.active.Store(0)
	}
}

// Active returns the number of in-flight admitted requests.
func (g *Gate) Active() int {
	return int(g.active.Load())
}

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

import "errors"

// ErrInvalidState is returned when an operation is called from a lifecycle
// state that does not permit it, such as calling Start twice.
var ErrInvalidState = errors.New("lifecycle: invalid state for operation")

// State represents the daemon lifecycle state.
//
// Valid transitions:
//
//	StateInit → StateStarting → StateReady → StateDraining → StateStopped
//	StateStarting → StateFailed (bind error)
//	StateDraining → StateFailed is not reachable; drain always ends in
//	StateStopped (forced termination exits the process instead).
//
// No transition is permitted out of StateStopped.
type State int

const (
	// StateInit is the state at controller construction.
	StateInit State = iota
	// StateStarting means the start function is running (listener binding).
	StateStarting
	// StateReady means the listener is bound and the readiness gate is open.
	StateReady
	// StateDraining means shutdown has begun: no new requests are admitted
	// and in-flight work is being awaited.
	StateDraining
	// StateStopped is the terminal state after a completed shutdown.
	StateStopped
	// StateFailed is the terminal state after a start failure.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// terminal reports whether no further transitions are permitted.
func (s State) terminal() bool {
	return s == StateStopped || s == StateFailed
}

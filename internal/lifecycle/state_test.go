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

import "testing"

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateInit, "init"},
		{StateStarting, "starting"},
		{StateReady, "ready"},
		{StateDraining, "draining"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateInit, StateStarting, StateReady, StateDraining} {
		if s.terminal() {
			t.Errorf("%v.terminal() = true, want false", s)
		}
	}
	for _, s := range []State{StateStopped, StateFailed} {
		if !s.terminal() {
			t.Errorf("%v.terminal() = false, want true", s)
		}
	}
}

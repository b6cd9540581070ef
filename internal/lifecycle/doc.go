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

// Package lifecycle manages the switchboard daemon process lifecycle.
//
// It provides:
//   - Controller: the daemon state machine. It owns the process termination
//     signal handlers, orchestrates graceful drain and forced shutdown, and
//     runs registered cleanup hooks.
//   - Gate: the readiness flag and in-flight request counter consulted by
//     the HTTP admission middleware.
//   - Interval: a resilient periodic-task runner with exponential backoff
//     on failure, used for background credential refresh.
//   - IdentityStore: the durable PID record used by CLI commands to
//     discover and stop a running instance, with stale-record reclamation.
//   - Spawner and HealthChecker: detached child spawning and startup
//     health polling for the CLI front-end.
//
// The Controller is the single owner of signal handling; no other package
// may install handlers for SIGINT, SIGTERM, or SIGHUP. Constructing two
// controllers in one process is refused.
package lifecycle

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

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrIdentityWrite is returned when the PID record could not be durably
// written after retries. The daemon keeps running without a discoverable
// identity; callers log this as a warning.
var ErrIdentityWrite = errors.New("lifecycle: failed to write identity record")

const (
	identityRenameAttempts = 3
	identityRenameDelay    = 50 * time.Millisecond
)

// DaemonStatus is the CLI-observable state of the daemon process.
type DaemonStatus int

const (
	// StatusNotRunning means no identity record exists, or a stale one was
	// reclaimed.
	StatusNotRunning DaemonStatus = iota
	// StatusRunning means the recorded PID refers to a live process.
	StatusRunning
)

// IdentityStore persists the "process with PID X is the running instance"
// record as a small text file containing the decimal PID.
//
// The writer is the running daemon; CLI readers never mutate the record
// except to delete stale entries. Writes use atomic-rename semantics via a
// sibling <record>.<writer-pid>.tmp file, so a reader never observes a
// partially written record. Temporary siblings left behind by crashed
// writers are treated as garbage and cleaned up on the next write.
type IdentityStore struct {
	path string
}

// NewIdentityStore creates a store for the given record path.
func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{path: path}
}

// Path returns the record path.
func (s *IdentityStore) Path() string {
	return s.path
}

// Write durably records pid. The record and its parent directory are
// restricted to owner read/write. The final rename is retried a bounded
// number of times before ErrIdentityWrite is returned.
func (s *IdentityStore) Write(pid int) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityWrite, err)
	}

	s.cleanStaleTemp()

	tmp := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityWrite, err)
	}

	var renameErr error
	for attempt := 0; attempt < identityRenameAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(identityRenameDelay)
		}
		if renameErr = os.Rename(tmp, s.path); renameErr == nil {
			return nil
		}
	}

	os.Remove(tmp)
	return fmt.Errorf("%w: %v", ErrIdentityWrite, renameErr)
}

// Read returns the recorded PID and true, or zero and false when the record
// is absent or unparsable. Only unexpected I/O faults produce an error.
func (s *IdentityStore) Read() (int, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read identity record: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false, nil
	}
	return pid, true, nil
}

// Remove deletes the record. Absence is not an error.
func (s *IdentityStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove identity record: %w", err)
	}
	return nil
}

// Status resolves the CLI-observable daemon state. A record whose PID is no
// longer alive is treated as stale: it is deleted and reported as not
// running, never surfaced as a false positive.
func (s *IdentityStore) Status() (DaemonStatus, int, error) {
	pid, ok, err := s.Read()
	if err != nil {
		return StatusNotRunning, 0, err
	}
	if !ok {
		return StatusNotRunning, 0, nil
	}

	if !IsAlive(pid) {
		// Stale-record reclamation.
		if err := s.Remove(); err != nil {
			return StatusNotRunning, pid, err
		}
		return StatusNotRunning, 0, nil
	}

	return StatusRunning, pid, nil
}

// cleanStaleTemp removes temporary siblings left by prior crashed writers.
// Our own in-progress temp file carries our PID and is never matched here
// because cleaning runs before it is created.
func (s *IdentityStore) cleanStaleTemp() {
	matches, err := filepath.Glob(s.path + ".*.tmp")
	if err != nil {
		return
	}
	for _, m := range matches {
		os.Remove(m)
	}
}

// IsAlive probes whether a process with the given PID exists, using signal 0
// (a zero-effect query of the process table). It fails closed: any probe
// error reports false.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 performs the real check.
	return proc.Signal(syscall.Signal(0)) == nil
}

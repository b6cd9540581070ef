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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/telkins/switchboard/internal/log"
)

// Process exit codes. Supervisors distinguish a clean stop from a start
// failure and from a forced (timed-out or repeat-signalled) shutdown.
const (
	ExitClean        = 0
	ExitStartFailure = 1
	ExitForced       = 2
)

// EnvDaemonChild is the environment marker set on the detached background
// child. Its presence distinguishes "managed background instance" (which
// persists an identity record) from "running attached" (which does not).
const EnvDaemonChild = "SWITCHBOARD_DAEMON_CHILD"

// IsDaemonChild reports whether this process was launched as the managed
// background instance.
func IsDaemonChild() bool {
	v := os.Getenv(EnvDaemonChild)
	return v == "1" || v == "true"
}

// ErrControllerExists is returned when a second Controller is constructed in
// the same process. The controller is the single owner of process signal
// handlers, so only one may be live at a time.
var ErrControllerExists = errors.New("lifecycle: a controller is already live in this process")

// controllerLive guards the single-owner signal handler precondition.
// Released when a controller reaches a terminal state.
var controllerLive atomic.Bool

// Hook is a unit of shutdown cleanup work. Hooks must be idempotent and
// tolerate being invoked even if their owning subsystem never started. The
// context is cancelled when the drain deadline elapses or shutdown is
// forced; past that point hook work is abandoned.
type Hook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

// ControllerConfig configures a lifecycle Controller.
type ControllerConfig struct {
	// Start binds the network listener (or whatever the daemon's start
	// work is). Required. A returned error is fatal and not retried.
	Start func() error

	// Identity is the process-identity store. When non-nil and the process
	// is a detached child, Start persists the record and registers a
	// removal hook.
	Identity *IdentityStore

	// DetachedChild marks this process as the managed background instance.
	// Callers pass IsDaemonChild(); the marker is read once, here, at
	// construction.
	DetachedChild bool

	// DrainDeadline bounds the graceful drain wait. Default: 30s.
	DrainDeadline time.Duration

	// PollInterval is the active-request poll period during drain.
	// Default: 200ms.
	PollInterval time.Duration

	// Exit terminates the process on forced shutdown. When nil the
	// controller runs embedded: forced shutdown settles into StateStopped
	// without terminating the host process. This is a construction-time
	// choice; production passes os.Exit.
	Exit func(code int)

	// Reload is invoked on SIGHUP. Optional.
	Reload func()

	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Controller owns the daemon lifecycle state machine and the process
// termination signal handlers. Use NewController exactly once per process.
type Controller struct {
	cfg    ControllerConfig
	gate   *Gate
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	hooks     []namedHook
	lateHooks []namedHook
	draining  bool

	forced    chan struct{}
	forceOnce sync.Once
	done      chan struct{}

	sigCh chan os.Signal
}

// NewController creates the process lifecycle controller and installs the
// signal handlers. It fails with ErrControllerExists if another controller
// is live; ownership is released when the controller reaches a terminal
// state.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Start == nil {
		return nil, fmt.Errorf("lifecycle: ControllerConfig.Start is required")
	}
	if cfg.DrainDeadline <= 0 {
		cfg.DrainDeadline = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if controllerLive.Swap(true) {
		return nil, ErrControllerExists
	}

	c := &Controller{
		cfg:    cfg,
		gate:   NewGate(),
		logger: log.WithComponent(cfg.Logger, "lifecycle"),
		state:  StateInit,
		forced: make(chan struct{}),
		done:   make(chan struct{}),
		sigCh:  make(chan os.Signal, 2),
	}

	signal.Notify(c.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go c.handleSignals()

	return c, nil
}

// Gate returns the readiness and drain gate for the admission middleware.
func (c *Controller) Gate() *Gate {
	return c.gate
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel closed when shutdown has settled into StateStopped.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start runs the configured start function. Valid only from StateInit.
// On success the controller is ready; if this process is the detached
// background child, the identity record is persisted and its removal
// registered as a shutdown hook. On failure the controller is failed and
// the error is propagated without retry. If a termination signal begins
// shutdown while the start function is in flight, shutdown wins: Start
// releases whatever the start function built and returns nil without
// entering ready.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateInit {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: Start from %s", ErrInvalidState, state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.cfg.Start(); err != nil {
		c.mu.Lock()
		if c.draining || c.state.terminal() {
			// Shutdown already owns the terminal transition.
			c.mu.Unlock()
			return fmt.Errorf("failed to start: %w", err)
		}
		c.state = StateFailed
		c.mu.Unlock()
		c.release()
		return fmt.Errorf("failed to start: %w", err)
	}

	// A termination signal can begin shutdown while the start function is
	// still binding. Shutdown wins: the controller must not leave a
	// terminal state, and the gate must not reopen while draining.
	c.mu.Lock()
	if c.draining || c.state.terminal() {
		late := c.lateHooks
		c.lateHooks = nil
		c.mu.Unlock()

		c.logger.Warn("shutdown began during start; releasing started resources",
			slog.Int("hooks", len(late)))
		if len(late) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DrainDeadline)
			<-c.runHooks(ctx, late)
			cancel()
		}
		return nil
	}
	c.state = StateReady
	c.gate.SetReady(true)

	if c.cfg.DetachedChild && c.cfg.Identity != nil {
		if err := c.cfg.Identity.Write(os.Getpid()); err != nil {
			// Non-fatal: the daemon keeps running without a
			// discoverable identity.
			c.logger.Warn("identity record not written", log.Error(err))
		} else {
			store := c.cfg.Identity
			c.hooks = append(c.hooks, namedHook{name: "identity-record", fn: func(context.Context) error {
				return store.Remove()
			}})
		}
	}
	c.mu.Unlock()

	c.logger.Info("controller ready", slog.Int("pid", os.Getpid()))
	return nil
}

// RegisterHook appends a shutdown hook. Hooks registered after draining has
// begun never run as part of the drain; call sites stay simple and need not
// handle an error. The controller retains such hooks so a start racing
// shutdown can still release what it built.
func (c *Controller) RegisterHook(name string, fn Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		c.logger.Debug("hook registered after drain began",
			slog.String("hook", name))
		c.lateHooks = append(c.lateHooks, namedHook{name: name, fn: fn})
		return
	}
	c.hooks = append(c.hooks, namedHook{name: name, fn: fn})
}

// Fatal converts an unrecoverable process-level error into a shutdown
// trigger. It is the interception point for errors that would otherwise
// crash silently (serve-loop failures, escaped panics).
func (c *Controller) Fatal(err error) {
	c.logger.Error("fatal error", log.Error(err))
	c.BeginShutdown("fatal")
}

// Force requests immediate forced termination, bypassing any in-progress
// drain wait. Equivalent to a second termination signal while draining.
func (c *Controller) Force() {
	c.forceOnce.Do(func() { close(c.forced) })
}

// BeginShutdown transitions to draining and blocks until shutdown settles.
// It is idempotent: invoked again while already draining or stopped it
// returns without effect. The readiness gate is closed before any hook runs
// and before the drain poll begins, so no newly admitted request can outlive
// the drain decision point.
func (c *Controller) BeginShutdown(reason string) {
	c.mu.Lock()
	if c.draining || c.state.terminal() {
		c.mu.Unlock()
		return
	}
	c.draining = true
	c.state = StateDraining
	hooks := make([]namedHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.mu.Unlock()

	c.gate.SetReady(false)

	c.logger.Info("shutdown initiated",
		slog.String(log.ReasonKey, reason),
		slog.Int("active_requests", c.gate.Active()),
		slog.Int("hooks", len(hooks)))

	hookCtx, cancelHooks := context.WithTimeout(context.Background(), c.cfg.DrainDeadline)
	defer cancelHooks()

	hooksDone := c.runHooks(hookCtx, hooks)

	deadline := time.NewTimer(c.cfg.DrainDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.forced:
			c.terminate(ExitForced, "forced shutdown requested")
			return
		case <-deadline.C:
			c.terminate(ExitForced, "drain deadline exceeded")
			return
		case <-ticker.C:
			if c.gate.Active() != 0 {
				continue
			}
			// Requests drained; await hook settlement, still
			// honoring the deadline and the forced flag.
			select {
			case <-hooksDone:
				c.settle()
				return
			case <-c.forced:
				c.terminate(ExitForced, "forced shutdown requested")
				return
			case <-deadline.C:
				c.terminate(ExitForced, "drain deadline exceeded")
				return
			}
		}
	}
}

// runHooks fires all hooks concurrently and returns a channel closed when
// every hook has settled. Hook failures are logged and independent; they
// never abort the drain.
func (c *Controller) runHooks(ctx context.Context, hooks []namedHook) <-chan struct{} {
	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(h namedHook) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("shutdown hook panicked",
						slog.String("hook", h.name),
						slog.Any("panic", r))
				}
			}()
			if err := h.fn(ctx); err != nil {
				c.logger.Error("shutdown hook failed",
					slog.String("hook", h.name),
					log.Error(err))
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// settle completes a clean shutdown.
func (c *Controller) settle() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Info("controller stopped")
	c.release()
	close(c.done)
}

// terminate completes a forced shutdown. Pending hook work is abandoned. In
// terminating mode the process exits with the given code; embedded, the
// controller settles into StateStopped and remains observable.
func (c *Controller) terminate(code int, why string) {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()

	c.logger.Warn("forced termination",
		slog.String(log.ReasonKey, why),
		slog.Int("remaining_requests", c.gate.Active()),
		slog.Int("exit_code", code))

	c.release()

	// Exit before closing done: anyone blocked on Done() must not wake
	// and race toward a clean exit while the forced exit is in flight.
	if c.cfg.Exit != nil {
		c.cfg.Exit(code)
	}
	close(c.done)
}

// release stops signal delivery and gives up single-owner status. Called
// exactly once, on entry to a terminal state.
func (c *Controller) release() {
	signal.Stop(c.sigCh)
	close(c.sigCh)
	controllerLive.Store(false)
}

// handleSignals is the single process-wide signal loop. The first
// termination signal begins shutdown; a second while draining forces
// immediate termination. SIGHUP triggers the reconfigure callback.
func (c *Controller) handleSignals() {
	for sig := range c.sigCh {
		switch sig {
		case syscall.SIGHUP:
			c.logger.Info("reload requested")
			if c.cfg.Reload != nil {
				c.cfg.Reload()
			}
		default:
			c.mu.Lock()
			draining := c.draining
			c.mu.Unlock()

			if draining {
				c.logger.Warn("second termination signal; forcing shutdown",
					slog.String("signal", sig.String()))
				c.Force()
				continue
			}

			c.logger.Info("termination signal received",
				slog.String("signal", sig.String()))
			go c.BeginShutdown("signal:" + sig.String())
		}
	}
}

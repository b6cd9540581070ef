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

package commands

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telkins/switchboard/internal/config"
	"github.com/telkins/switchboard/internal/lifecycle"
)

// newStartCommand creates the start command.
func newStartCommand(opts *globalOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway daemon in the background",
		Long: `Start the gateway as a detached background daemon.

The daemon writes an identity record so later start/stop/status
invocations can find it. Start is idempotent: if a healthy daemon is
already running, it exits successfully without starting another.`,
		Example: `  # Start the daemon
  switchboard start

  # Allow more time for the daemon to become healthy
  switchboard start --timeout 60s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), opts, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Health check timeout")

	return cmd
}

func runStart(ctx context.Context, opts *globalOptions, timeout time.Duration) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	identity := lifecycle.NewIdentityStore(cfg.Daemon.PIDFile)

	// Idempotence: a live, healthy daemon means there is nothing to do.
	// A live but unhealthy one is left alone too; starting a second
	// instance would only fight over the listen address.
	status, existingPID, err := identity.Status()
	if err != nil {
		return fmt.Errorf("failed to check existing daemon: %w", err)
	}
	if status == lifecycle.StatusRunning && !lifecycle.IsSwitchboardProcess(existingPID) {
		// The recorded PID was reused by an unrelated process; the record
		// is stale.
		fmt.Printf("Removing stale identity record (PID %d reused by another process)\n", existingPID)
		if err := identity.Remove(); err != nil {
			return fmt.Errorf("failed to remove stale identity record: %w", err)
		}
		status = lifecycle.StatusNotRunning
	}
	if status == lifecycle.StatusRunning {
		checker := lifecycle.NewHealthChecker(healthEndpoint(cfg))

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := checker.Check(checkCtx); err == nil {
			fmt.Printf("Daemon is already running (PID %d)\n", existingPID)
			return nil
		}
		return fmt.Errorf("daemon process exists (PID %d) but is not healthy; stop it before starting again", existingPID)
	}

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	childArgs := []string{"serve"}
	if opts.configPath != "" {
		childArgs = append(childArgs, "--config", opts.configPath)
	}

	spawner := lifecycle.NewSpawner()
	pid, err := spawner.SpawnDetached(binaryPath, childArgs, cfg.Daemon.LogFile)
	if err != nil {
		return fmt.Errorf("failed to spawn daemon: %w", err)
	}

	fmt.Printf("Starting daemon (PID %d)...\n", pid)

	checker := lifecycle.NewHealthChecker(healthEndpoint(cfg))
	if err := checker.WaitUntilHealthy(timeout); err != nil {
		// Clean up the child we just spawned so a failed start leaves
		// nothing behind.
		_ = lifecycle.SendSignal(pid, syscall.SIGTERM)
		return fmt.Errorf("daemon failed to become healthy within %v: %w", timeout, err)
	}

	fmt.Printf("Daemon started successfully (PID %d)\n", pid)
	return nil
}

// healthEndpoint returns the liveness URL for the configured listener.
func healthEndpoint(cfg *config.Config) string {
	return fmt.Sprintf("http://%s/healthz", cfg.Server.Addr)
}

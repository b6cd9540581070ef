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
	"net/http"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telkins/switchboard/internal/config"
	"github.com/telkins/switchboard/internal/lifecycle"
)

// newStopCommand creates the stop command.
func newStopCommand(opts *globalOptions) *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the gateway daemon",
		Long: `Stop the gateway daemon gracefully.

The daemon is asked to shut down over its admin endpoint, falling back
to SIGTERM when the endpoint is unreachable. Either way the daemon
drains in-flight requests before exiting; if it does not exit within
the timeout, it is killed.

Use --force to skip the graceful drain and kill immediately.

Stop is idempotent: if the daemon is not running, it exits successfully
after cleaning up any stale identity record.`,
		Example: `  # Stop gracefully
  switchboard stop

  # Allow a longer drain before killing
  switchboard stop --timeout 60s

  # Kill immediately
  switchboard stop --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), opts, timeout, force)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 45*time.Second, "Time to wait for the daemon to exit before SIGKILL")
	cmd.Flags().BoolVar(&force, "force", false, "Skip graceful shutdown, send SIGKILL immediately")

	return cmd
}

func runStop(ctx context.Context, opts *globalOptions, timeout time.Duration, force bool) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	identity := lifecycle.NewIdentityStore(cfg.Daemon.PIDFile)

	pid, ok, err := identity.Read()
	if err != nil {
		return fmt.Errorf("failed to read identity record: %w", err)
	}
	if !ok {
		fmt.Println("Daemon is not running (no identity record)")
		return nil
	}

	if !lifecycle.IsAlive(pid) {
		fmt.Printf("Daemon process %d is not running (removing stale identity record)\n", pid)
		if err := identity.Remove(); err != nil {
			return fmt.Errorf("failed to remove stale identity record: %w", err)
		}
		return nil
	}

	// A stale record can point at a PID the kernel has since reused for an
	// unrelated process. Never signal a PID we cannot attribute to us.
	if !lifecycle.IsSwitchboardProcess(pid) {
		fmt.Printf("Process %d is not a switchboard daemon (removing stale identity record)\n", pid)
		if err := identity.Remove(); err != nil {
			return fmt.Errorf("failed to remove stale identity record: %w", err)
		}
		return nil
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)

	if force {
		if err := lifecycle.StopProcess(pid, 0, true); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
	} else {
		// Prefer the admin endpoint: it acknowledges the request so we
		// know the daemon heard us. SIGTERM covers a wedged listener.
		if !requestAdminShutdown(ctx, cfg) {
			if err := lifecycle.SendSignal(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to signal daemon: %w", err)
			}
		}
		if err := lifecycle.WaitForExit(pid, timeout); err != nil {
			fmt.Println("Daemon did not exit in time; killing")
			if err := lifecycle.StopProcess(pid, 0, true); err != nil {
				return fmt.Errorf("failed to kill daemon: %w", err)
			}
		}
	}

	// The daemon removes its own record on a clean exit; this covers the
	// killed path.
	_ = identity.Remove()

	fmt.Println("Daemon stopped")
	return nil
}

// requestAdminShutdown asks the running daemon to shut down over HTTP.
// Returns false when the endpoint could not be reached or refused.
func requestAdminShutdown(ctx context.Context, cfg *config.Config) bool {
	url := fmt.Sprintf("http://%s/admin/shutdown", cfg.Server.Addr)

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusAccepted
}

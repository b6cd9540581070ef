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
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/telkins/switchboard/internal/config"
	"github.com/telkins/switchboard/internal/lifecycle"
)

// statusInfo is the machine-readable status report.
type statusInfo struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Healthy bool   `json:"healthy"`
	Addr    string `json:"addr"`
}

// newStatusCommand creates the status command.
func newStatusCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long: `Report whether the gateway daemon is running and healthy.

Reading the status also reclaims a stale identity record left behind by
a crashed daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, opts, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, opts *globalOptions, jsonOut bool) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	identity := lifecycle.NewIdentityStore(cfg.Daemon.PIDFile)

	status, pid, err := identity.Status()
	if err != nil {
		return fmt.Errorf("failed to read identity record: %w", err)
	}

	info := statusInfo{
		Running: status == lifecycle.StatusRunning,
		Addr:    cfg.Server.Addr,
	}
	if info.Running {
		info.PID = pid

		checker := lifecycle.NewHealthChecker(healthEndpoint(cfg))
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		info.Healthy = checker.Check(checkCtx) == nil
	}

	if jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if !info.Running {
		cmd.Println("Daemon is not running")
		return nil
	}

	health := "healthy"
	if !info.Healthy {
		health = "unhealthy"
	}
	cmd.Printf("Daemon is running (PID %d, %s)\n", info.PID, health)
	cmd.Printf("  listening on %s\n", info.Addr)
	return nil
}

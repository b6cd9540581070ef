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
	"os"

	"github.com/spf13/cobra"

	"github.com/telkins/switchboard/internal/daemon"
)

// newServeCommand creates the serve command. This is both the user-facing
// foreground mode and the entry point the detached child is spawned into;
// the two are told apart by the daemon-child environment marker, not by
// flags.
func newServeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway in the foreground",
		Long: `Run the gateway attached to the current terminal.

Logs go to stdout and no identity record is written. Ctrl-C drains
in-flight requests before exiting; a second Ctrl-C exits immediately.`,
		Example: `  # Run attached (for systemd/docker or development)
  switchboard serve

  # Run with an explicit config file
  switchboard serve --config ./switchboard.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := daemon.Run(daemon.Options{
				ConfigPath: opts.configPath,
				Version:    version,
				Exit:       os.Exit,
			})
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
}

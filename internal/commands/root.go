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

// Package commands implements the switchboard CLI.
package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Build metadata, set from main via SetVersion.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// SetVersion records build metadata injected through ldflags.
func SetVersion(v, c, b string) {
	if v != "" {
		version = v
	}
	if c != "" {
		commit = c
	}
	if b != "" {
		buildDate = b
	}
}

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

// NewRootCommand creates the switchboard root command.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Local gateway daemon for AI provider APIs",
		Long: `Switchboard runs a local HTTP gateway that forwards OpenAI- and
Anthropic-dialect API requests to an upstream provider, injecting the
daemon's own credentials and keeping them refreshed in the background.

The gateway normally runs as a managed background daemon: "start" spawns
it detached and waits for it to become healthy, "stop" drains and stops
it, and "status" reports on the running instance. Use "serve" to run the
gateway attached to the current terminal instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (default: XDG config dir)")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return applyEnvDefaults(cmd.Flags())
	}

	root.AddCommand(
		newStartCommand(opts),
		newStopCommand(opts),
		newStatusCommand(opts),
		newServeCommand(opts),
		newVersionCommand(),
	)

	return root
}

// applyEnvDefaults fills unset flags from SWITCHBOARD_<FLAG> environment
// variables, so e.g. SWITCHBOARD_CONFIG stands in for --config. Flags set
// explicitly on the command line always win.
func applyEnvDefaults(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		name := "SWITCHBOARD_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if value, ok := os.LookupEnv(name); ok {
			err = flags.Set(f.Name, value)
		}
	})
	return err
}

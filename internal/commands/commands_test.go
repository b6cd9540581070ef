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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Run("text output", func(t *testing.T) {
		out, err := execute(t, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "switchboard version")
		assert.Contains(t, out, "commit:")
	})

	t.Run("json output", func(t *testing.T) {
		out, err := execute(t, "version", "--json")
		require.NoError(t, err)

		var info versionInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.NotEmpty(t, info.Version)
	})
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	configPath := filepath.Join(dir, "switchboard.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("daemon:\n  pid_file: \""+filepath.Join(dir, "test.pid")+"\"\n"), 0600))

	t.Run("reports not running without a record", func(t *testing.T) {
		out, err := execute(t, "status", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, "not running")
	})

	t.Run("json shape", func(t *testing.T) {
		out, err := execute(t, "status", "--config", configPath, "--json")
		require.NoError(t, err)

		var info statusInfo
		require.NoError(t, json.Unmarshal([]byte(out), &info))
		assert.False(t, info.Running)
		assert.NotEmpty(t, info.Addr)
	})

	t.Run("reclaims a stale record", func(t *testing.T) {
		pidFile := filepath.Join(dir, "test.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("4194000\n"), 0600))

		out, err := execute(t, "status", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, out, "not running")

		_, statErr := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(statErr), "stale record was not reclaimed")
	})
}

func TestStopCommand_NotRunning(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	configPath := filepath.Join(dir, "switchboard.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("daemon:\n  pid_file: \""+filepath.Join(dir, "test.pid")+"\"\n"), 0600))

	// Stop without a running daemon is a successful no-op.
	_, err := execute(t, "stop", "--config", configPath)
	require.NoError(t, err)
}

func TestApplyEnvDefaults(t *testing.T) {
	t.Run("env fills unset flag", func(t *testing.T) {
		t.Setenv("SWITCHBOARD_CONFIG", "/tmp/from-env.yaml")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		value := flags.String("config", "", "")
		require.NoError(t, applyEnvDefaults(flags))
		assert.Equal(t, "/tmp/from-env.yaml", *value)
	})

	t.Run("explicit flag wins over env", func(t *testing.T) {
		t.Setenv("SWITCHBOARD_CONFIG", "/tmp/from-env.yaml")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		value := flags.String("config", "", "")
		require.NoError(t, flags.Set("config", "/tmp/explicit.yaml"))
		require.NoError(t, applyEnvDefaults(flags))
		assert.Equal(t, "/tmp/explicit.yaml", *value)
	})

	t.Run("dashes map to underscores", func(t *testing.T) {
		t.Setenv("SWITCHBOARD_LOG_LEVEL", "debug")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		value := flags.String("log-level", "info", "")
		require.NoError(t, applyEnvDefaults(flags))
		assert.Equal(t, "debug", *value)
	})
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"start", "stop", "status", "serve", "version"} {
		assert.Contains(t, names, want)
	}
}

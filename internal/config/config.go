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

// Package config loads switchboard configuration from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete switchboard configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Daemon   DaemonConfig   `yaml:"daemon"`
}

// ServerConfig configures the HTTP listener and request admission.
type ServerConfig struct {
	// Addr is the TCP address to listen on. Default: 127.0.0.1:4141.
	Addr string `yaml:"addr,omitempty"`

	// APIKey is the Bearer token required on inbound requests.
	// Empty disables authentication.
	APIKey string `yaml:"api_key,omitempty"`

	// AllowRemote permits binding to non-loopback addresses.
	AllowRemote bool `yaml:"allow_remote"`

	// RateLimit is the per-client request rate in requests/second.
	// Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit,omitempty"`

	// RateBurst is the per-client burst allowance. Default: 10.
	RateBurst int `yaml:"rate_burst,omitempty"`
}

// UpstreamConfig configures the backing AI API.
type UpstreamConfig struct {
	// BaseURL is the upstream API base URL.
	BaseURL string `yaml:"base_url,omitempty"`

	// Models are the model identifiers advertised on /v1/models.
	Models []string `yaml:"models,omitempty"`

	// RefreshInterval is the credential refresh period. Default: 25m.
	RefreshInterval time.Duration `yaml:"refresh_interval,omitempty"`

	// TokenFile is the credential file path.
	// Default: <data dir>/token.json.
	TokenFile string `yaml:"token_file,omitempty"`
}

// DaemonConfig configures background-process behaviour.
type DaemonConfig struct {
	// PIDFile is the process-identity record path.
	// Default: <data dir>/switchboard.pid.
	PIDFile string `yaml:"pid_file,omitempty"`

	// LogFile receives stdout/stderr of the detached child.
	// Default: <data dir>/switchboard.log.
	LogFile string `yaml:"log_file,omitempty"`

	// DrainDeadline bounds the graceful-shutdown drain wait. Default: 30s.
	DrainDeadline time.Duration `yaml:"drain_deadline,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      "127.0.0.1:4141",
			RateBurst: 10,
		},
		Upstream: UpstreamConfig{
			BaseURL:         "https://api.githubcopilot.com",
			Models:          []string{"gpt-4o", "gpt-4o-mini", "claude-sonnet-4"},
			RefreshInterval: 25 * time.Minute,
		},
		Daemon: DaemonConfig{
			DrainDeadline: 30 * time.Second,
		},
	}
}

// Load reads configuration from the given path, falling back to the default
// XDG location when path is empty. A missing config file is not an error;
// defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, cfg.fillPaths()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, cfg.fillPaths()
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SWITCHBOARD_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SWITCHBOARD_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr must not be empty", ErrInvalidConfig)
	}
	if c.Upstream.RefreshInterval < 0 {
		return fmt.Errorf("%w: upstream.refresh_interval must not be negative", ErrInvalidConfig)
	}
	if c.Daemon.DrainDeadline < 0 {
		return fmt.Errorf("%w: daemon.drain_deadline must not be negative", ErrInvalidConfig)
	}
	return nil
}

// fillPaths resolves defaulted file paths against the data directory.
func (c *Config) fillPaths() error {
	if c.Daemon.PIDFile != "" && c.Daemon.LogFile != "" && c.Upstream.TokenFile != "" {
		return nil
	}
	dataDir, err := DataDir()
	if err != nil {
		return err
	}
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = filepath.Join(dataDir, "switchboard.pid")
	}
	if c.Daemon.LogFile == "" {
		c.Daemon.LogFile = filepath.Join(dataDir, "switchboard.log")
	}
	if c.Upstream.TokenFile == "" {
		c.Upstream.TokenFile = filepath.Join(dataDir, "token.json")
	}
	return nil
}

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

// Package daemon assembles the gateway: configuration, credential
// refresher, upstream proxy, HTTP server, and the lifecycle controller
// that owns signals and shutdown.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/telkins/switchboard/internal/config"
	"github.com/telkins/switchboard/internal/lifecycle"
	"github.com/telkins/switchboard/internal/log"
	"github.com/telkins/switchboard/internal/server"
	"github.com/telkins/switchboard/internal/token"
	"github.com/telkins/switchboard/internal/upstream"
)

// Options configures a daemon run.
type Options struct {
	// ConfigPath overrides the default config file location. Optional.
	ConfigPath string

	// Version is the build version reported on /healthz.
	Version string

	// Exit terminates the process on forced shutdown. Production passes
	// os.Exit; tests leave it nil to keep the controller embedded.
	Exit func(code int)

	// Logger overrides the environment-derived logger. Optional.
	Logger *slog.Logger
}

// Daemon is a fully wired gateway instance.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	ctrl      *lifecycle.Controller
	srv       *server.Server
	refresher *token.Refresher
}

// New wires the daemon from configuration. The lifecycle controller is
// constructed here, so New fails if another controller is live in this
// process.
func New(opts Options) (*Daemon, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.FromEnv())
	}

	d := &Daemon{
		cfg:    cfg,
		logger: logger,
	}

	d.refresher, err = token.NewRefresher(token.RefresherConfig{
		Store:    token.NewStore(cfg.Upstream.TokenFile),
		Interval: cfg.Upstream.RefreshInterval,
		Logger:   log.WithComponent(logger, "token"),
	})
	if err != nil {
		return nil, err
	}

	proxy, err := upstream.New(upstream.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Tokens:  d.refresher,
		Logger:  log.WithComponent(logger, "upstream"),
	})
	if err != nil {
		return nil, err
	}

	d.ctrl, err = lifecycle.NewController(lifecycle.ControllerConfig{
		Start:         d.start,
		Identity:      lifecycle.NewIdentityStore(cfg.Daemon.PIDFile),
		DetachedChild: lifecycle.IsDaemonChild(),
		DrainDeadline: cfg.Daemon.DrainDeadline,
		Exit:          opts.Exit,
		Reload:        d.reload,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	srvCfg := server.FromAppConfig(cfg)
	srvCfg.Upstream = proxy
	srvCfg.Gate = d.ctrl.Gate()
	srvCfg.OnShutdownRequest = d.ctrl.BeginShutdown
	srvCfg.OnFatal = d.ctrl.Fatal
	srvCfg.Version = opts.Version
	srvCfg.Logger = logger
	d.srv = server.New(srvCfg)

	return d, nil
}

// start is the controller's start function: bring up the credential
// refresher and bind and serve the listener. Run before the controller
// reports ready.
func (d *Daemon) start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.refresher.Start(ctx); err != nil {
		return err
	}

	if err := d.srv.Bind(); err != nil {
		d.refresher.Stop()
		return err
	}

	d.ctrl.RegisterHook("http-server", func(ctx context.Context) error {
		return d.srv.Shutdown(ctx)
	})
	d.ctrl.RegisterHook("token-refresher", func(context.Context) error {
		return d.refresher.Stop()
	})

	d.srv.Serve()
	d.logger.Info("gateway listening", "addr", d.srv.Addr())
	return nil
}

// reload handles SIGHUP: re-read the credential file.
func (d *Daemon) reload() {
	if err := d.refresher.Reload(); err != nil {
		d.logger.Error("reload failed", log.Error(err))
	}
}

// Addr returns the bound listener address. Valid after a successful Start.
func (d *Daemon) Addr() string {
	return d.srv.Addr()
}

// Controller exposes the lifecycle controller for callers that trigger
// shutdown directly.
func (d *Daemon) Controller() *lifecycle.Controller {
	return d.ctrl
}

// Run starts the daemon and blocks until shutdown settles. The return
// value is the process exit code for the non-forced paths; forced
// termination exits through Options.Exit before Run returns.
func Run(opts Options) int {
	d, err := New(opts)
	if err != nil {
		slog.Error("daemon init failed", "error", err)
		return lifecycle.ExitStartFailure
	}

	if err := d.ctrl.Start(); err != nil {
		d.logger.Error("daemon start failed", log.Error(err))
		return lifecycle.ExitStartFailure
	}

	<-d.ctrl.Done()
	return lifecycle.ExitClean
}

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

package token

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/telkins/switchboard/internal/lifecycle"
)

// FetchFunc obtains a fresh token from the credential source.
type FetchFunc func(ctx context.Context) (*oauth2.Token, error)

// RefresherConfig configures a Refresher.
type RefresherConfig struct {
	// Store is the token file store (required).
	Store *Store

	// Fetch obtains a new token from upstream. Optional: when nil the
	// refresher only tracks the token file and never fetches.
	Fetch FetchFunc

	// Interval is the refresh period (defaults to 25 minutes).
	Interval time.Duration

	// DebounceDelay is the delay before reloading after a file change
	// (defaults to 200ms).
	DebounceDelay time.Duration

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

// Refresher keeps the in-memory token current. It refreshes on a backoff
// interval, reloads when the token file changes on disk, and exposes
// Reload for the SIGHUP path. Stop is safe to call more than once and is
// intended to be registered as a shutdown hook.
type Refresher struct {
	store         *Store
	fetch         FetchFunc
	period        time.Duration
	debounceDelay time.Duration
	logger        *slog.Logger

	interval  *lifecycle.Interval
	fsWatcher *fsnotify.Watcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.RWMutex
	token    *oauth2.Token
	debounce *time.Timer
	stopped  bool
}

// NewRefresher creates a refresher. Start must be called before use.
func NewRefresher(cfg RefresherConfig) (*Refresher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	period := cfg.Interval
	if period == 0 {
		period = 25 * time.Minute
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	return &Refresher{
		store:         cfg.Store,
		fetch:         cfg.Fetch,
		period:        period,
		debounceDelay: debounceDelay,
		logger:        logger,
	}, nil
}

// Start loads or fetches the initial token synchronously, then starts the
// background refresh interval and the token-file watch. An initial fetch
// failure is not fatal when a token already exists on disk.
func (r *Refresher) Start(ctx context.Context) error {
	tok, err := r.store.Load()
	if err != nil {
		return err
	}

	if r.fetch != nil && (tok == nil || !tok.Valid()) {
		fetched, err := r.fetch(ctx)
		if err != nil {
			if tok == nil {
				return fmt.Errorf("initial token fetch failed: %w", err)
			}
			r.logger.Warn("initial token fetch failed, using token from disk",
				"error", err,
			)
		} else {
			tok = fetched
			if err := r.store.Save(tok); err != nil {
				r.logger.Warn("failed to persist token", "error", err)
			}
		}
	}

	r.mu.Lock()
	r.token = tok
	r.mu.Unlock()

	watchCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if err := r.startWatch(watchCtx); err != nil {
		r.logger.Warn("token file watch unavailable", "error", err)
	}

	if r.fetch != nil {
		r.interval = lifecycle.StartInterval(lifecycle.IntervalConfig{
			Interval: r.period,
			Name:     "token-refresh",
			Logger:   r.logger,
		}, r.refresh)
	}
	return nil
}

// Token returns the current token, or false when none is available.
func (r *Refresher) Token() (*oauth2.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.token == nil {
		return nil, false
	}
	return r.token, true
}

// Reload re-reads the token file and replaces the in-memory copy. A missing
// file leaves the current token in place.
func (r *Refresher) Reload() error {
	tok, err := r.store.Load()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}

	r.mu.Lock()
	r.token = tok
	r.mu.Unlock()

	r.logger.Info("token reloaded from file", "path", r.store.Path())
	return nil
}

// Stop ends background refresh and the file watch. Idempotent.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.mu.Unlock()

	if r.interval != nil {
		r.interval.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	if r.fsWatcher != nil {
		return r.fsWatcher.Close()
	}
	return nil
}

// refresh fetches a new token and persists it. Used as the interval task,
// so a returned error triggers backoff.
func (r *Refresher) refresh(ctx context.Context) error {
	tok, err := r.fetch(ctx)
	if err != nil {
		return err
	}

	if err := r.store.Save(tok); err != nil {
		return err
	}

	r.mu.Lock()
	r.token = tok
	r.mu.Unlock()

	r.logger.Debug("token refreshed", "expiry", tok.Expiry)
	return nil
}

// startWatch watches the directory holding the token file. The directory,
// not the file, because atomic saves replace the inode.
func (r *Refresher) startWatch(ctx context.Context) error {
	dir := filepath.Dir(r.store.Path())

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	r.fsWatcher = fsWatcher

	r.wg.Add(1)
	go r.processEvents(ctx)
	return nil
}

// processEvents reloads the token after external writes to the token file,
// debounced so editors that write in bursts trigger a single reload.
func (r *Refresher) processEvents(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case event, ok := <-r.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != r.store.Path() {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				r.scheduleReload()
			}

		case err, ok := <-r.fsWatcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("token file watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) scheduleReload() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	if r.debounce != nil {
		r.debounce.Stop()
	}
	r.debounce = time.AfterFunc(r.debounceDelay, func() {
		if err := r.Reload(); err != nil {
			r.logger.Error("failed to reload token", "error", err)
		}
	})
}

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
	"log/slog"
	"sync"
	"time"

	"github.com/telkins/switchboard/internal/log"
)

// TaskFunc is a fallible unit of periodic work.
type TaskFunc func(ctx context.Context) error

// IntervalConfig configures a resilient interval runner.
type IntervalConfig struct {
	// Interval is the base scheduling period. Required.
	Interval time.Duration

	// Multiplier is the backoff multiplier applied per consecutive
	// failure. Default: 2.
	Multiplier float64

	// MaxBackoff caps the backoff delay. Default: 10 × Interval.
	MaxBackoff time.Duration

	// Name identifies the task in logs.
	Name string

	// Logger receives failure logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Interval is a handle to a running resilient interval task.
//
// The wrapped task is first executed one full interval after StartInterval
// returns; callers that need an immediate first execution perform it
// synchronously before starting the loop. On success the task is rescheduled
// after the base interval; on failure after
// min(interval × multiplier^streak, maxBackoff), where streak is the count
// of consecutive failures. A success resets the streak.
type Interval struct {
	cfg    IntervalConfig
	task   TaskFunc
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	streak  int
}

// StartInterval begins periodic execution of task. The first execution
// happens after one interval, not immediately.
func StartInterval(cfg IntervalConfig, task TaskFunc) *Interval {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	iv := &Interval{
		cfg:    cfg,
		task:   task,
		ctx:    ctx,
		cancel: cancel,
	}

	iv.mu.Lock()
	iv.timer = time.AfterFunc(cfg.Interval, iv.fire)
	iv.mu.Unlock()
	return iv
}

// Stop cancels scheduling. It is idempotent. After Stop returns, no new
// execution of the task will begin; an execution already in flight finishes
// naturally but is never rescheduled. Stop does not cancel in-flight work.
func (iv *Interval) Stop() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.stopped {
		return
	}
	iv.stopped = true
	if iv.timer != nil {
		iv.timer.Stop()
	}
	iv.cancel()
}

// fire runs one execution and reschedules.
func (iv *Interval) fire() {
	// The commit to execute happens under the lock so that Stop, once
	// returned, guarantees no new execution begins.
	iv.mu.Lock()
	if iv.stopped {
		iv.mu.Unlock()
		return
	}
	iv.mu.Unlock()

	err := iv.task(iv.ctx)

	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.stopped {
		return
	}

	delay := iv.cfg.Interval
	if err != nil {
		iv.streak++
		delay = iv.backoff()
		iv.cfg.Logger.Warn("periodic task failed",
			slog.String("task", iv.cfg.Name),
			log.Error(err),
			slog.Int("consecutive_failures", iv.streak),
			slog.Duration("retry_in", delay))
	} else {
		iv.streak = 0
	}

	iv.timer = time.AfterFunc(delay, iv.fire)
}

// backoff returns min(interval × multiplier^streak, maxBackoff).
func (iv *Interval) backoff() time.Duration {
	d := float64(iv.cfg.Interval)
	for i := 0; i < iv.streak; i++ {
		d *= iv.cfg.Multiplier
		if d >= float64(iv.cfg.MaxBackoff) {
			return iv.cfg.MaxBackoff
		}
	}
	return time.Duration(d)
}

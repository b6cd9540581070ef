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
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestInterval_RunsPeriodically(t *testing.T) {
	var count atomic.Int64
	done := make(chan struct{})

	iv := StartInterval(IntervalConfig{
		Interval: 10 * time.Millisecond,
		Name:     "test",
	}, func(ctx context.Context) error {
		if count.Add(1) == 3 {
			close(done)
		}
		return nil
	})
	defer iv.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task ran %d times, want at least 3", count.Load())
	}
}

func TestInterval_FirstExecutionIsDelayed(t *testing.T) {
	var count atomic.Int64

	iv := StartInterval(IntervalConfig{
		Interval: 50 * time.Millisecond,
		Name:     "test",
	}, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	defer iv.Stop()

	// Well inside the first interval nothing must have run.
	time.Sleep(10 * time.Millisecond)
	if n := count.Load(); n != 0 {
		t.Errorf("task ran %d times before the first interval elapsed", n)
	}
}

func TestInterval_BacksOffOnFailure(t *testing.T) {
	// Two failures then success: gaps between executions must grow while
	// failing and shrink back after the success.
	var times []time.Time
	runs := make(chan int, 8)
	var count int

	iv := StartInterval(IntervalConfig{
		Interval:   20 * time.Millisecond,
		Multiplier: 2,
		MaxBackoff: 200 * time.Millisecond,
		Name:       "test",
	}, func(ctx context.Context) error {
		times = append(times, time.Now())
		count++
		runs <- count
		if count <= 2 {
			return errors.New("transient failure")
		}
		return nil
	})
	defer iv.Stop()

	// Wait for four executions: fail, fail, succeed, succeed.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-runs:
			if n == 4 {
				goto check
			}
		case <-deadline:
			t.Fatalf("timed out after %d executions, want 4", count)
		}
	}

check:
	// times is only appended from the task goroutine; receiving the
	// fourth send makes all four appends visible here.
	gap1 := times[1].Sub(times[0]) // after first failure: ~40ms
	gap2 := times[2].Sub(times[1]) // after second failure: ~80ms
	gap3 := times[3].Sub(times[2]) // after success: back to ~20ms

	if gap1 < 30*time.Millisecond {
		t.Errorf("gap after first failure = %v, want >= 30ms", gap1)
	}
	if gap2 < 60*time.Millisecond {
		t.Errorf("gap after second failure = %v, want >= 60ms", gap2)
	}
	if gap3 >= gap2 {
		t.Errorf("gap after success = %v, want shorter than failing gap %v", gap3, gap2)
	}
}

func TestInterval_BackoffIsCapped(t *testing.T) {
	iv := &Interval{cfg: IntervalConfig{
		Interval:   20 * time.Millisecond,
		Multiplier: 2,
		MaxBackoff: 100 * time.Millisecond,
	}}

	cases := []struct {
		streak int
		want   time.Duration
	}{
		{1, 40 * time.Millisecond},
		{2, 80 * time.Millisecond},
		{3, 100 * time.Millisecond},  // capped
		{10, 100 * time.Millisecond}, // still capped
	}
	for _, tc := range cases {
		iv.streak = tc.streak
		if got := iv.backoff(); got != tc.want {
			t.Errorf("backoff(streak=%d) = %v, want %v", tc.streak, got, tc.want)
		}
	}
}

func TestInterval_Stop(t *testing.T) {
	t.Run("no execution begins after Stop returns", func(t *testing.T) {
		var count atomic.Int64

		iv := StartInterval(IntervalConfig{
			Interval: 5 * time.Millisecond,
			Name:     "test",
		}, func(ctx context.Context) error {
			count.Add(1)
			return nil
		})

		// Let it run a little, then stop.
		time.Sleep(25 * time.Millisecond)
		iv.Stop()
		at := count.Load()

		time.Sleep(100 * time.Millisecond)
		if after := count.Load(); after != at {
			t.Errorf("task ran %d more times after Stop", after-at)
		}
	})

	t.Run("Stop is idempotent", func(t *testing.T) {
		iv := StartInterval(IntervalConfig{
			Interval: time.Hour,
			Name:     "test",
		}, func(ctx context.Context) error { return nil })

		iv.Stop()
		iv.Stop()
	})

	t.Run("Stop before first execution prevents it entirely", func(t *testing.T) {
		var count atomic.Int64

		iv := StartInterval(IntervalConfig{
			Interval: 20 * time.Millisecond,
			Name:     "test",
		}, func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
		iv.Stop()

		time.Sleep(60 * time.Millisecond)
		if n := count.Load(); n != 0 {
			t.Errorf("task ran %d times after immediate Stop", n)
		}
	})
}

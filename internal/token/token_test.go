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
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestStore(t *testing.T) {
	t.Run("round-trips a token", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "token.json"))

		want := &oauth2.Token{
			AccessToken: "abc123",
			TokenType:   "Bearer",
			Expiry:      time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		}
		require.NoError(t, s.Save(want))

		got, err := s.Load()
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.AccessToken, got.AccessToken)
		assert.Equal(t, want.TokenType, got.TokenType)
		assert.True(t, want.Expiry.Equal(got.Expiry))
	})

	t.Run("token file is owner-only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		s := NewStore(path)
		require.NoError(t, s.Save(&oauth2.Token{AccessToken: "abc"}))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode()&os.ModePerm)
	})

	t.Run("missing file loads as nil", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "missing.json"))
		tok, err := s.Load()
		require.NoError(t, err)
		assert.Nil(t, tok)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "garbage.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0600))

		_, err := NewStore(path).Load()
		assert.Error(t, err)
	})

	t.Run("saving nil is rejected", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "token.json"))
		assert.Error(t, s.Save(nil))
	})

	t.Run("creates parent directories", func(t *testing.T) {
		s := NewStore(filepath.Join(t.TempDir(), "a", "b", "token.json"))
		require.NoError(t, s.Save(&oauth2.Token{AccessToken: "abc"}))
	})
}

func TestRefresher(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewRefresher(RefresherConfig{})
		assert.Error(t, err)
	})

	t.Run("starts from the token on disk without a fetcher", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "from-disk"}))

		r, err := NewRefresher(RefresherConfig{Store: store})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		tok, ok := r.Token()
		require.True(t, ok)
		assert.Equal(t, "from-disk", tok.AccessToken)
	})

	t.Run("fetches and persists the initial token", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))

		r, err := NewRefresher(RefresherConfig{
			Store: store,
			Fetch: func(ctx context.Context) (*oauth2.Token, error) {
				return &oauth2.Token{
					AccessToken: "fetched",
					Expiry:      time.Now().Add(time.Hour),
				}, nil
			},
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		tok, ok := r.Token()
		require.True(t, ok)
		assert.Equal(t, "fetched", tok.AccessToken)

		// The fetched token was persisted.
		saved, err := store.Load()
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, "fetched", saved.AccessToken)
	})

	t.Run("initial fetch failure with no token on disk is fatal", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))

		r, err := NewRefresher(RefresherConfig{
			Store: store,
			Fetch: func(ctx context.Context) (*oauth2.Token, error) {
				return nil, errors.New("upstream down")
			},
		})
		require.NoError(t, err)
		assert.Error(t, r.Start(context.Background()))
	})

	t.Run("initial fetch failure falls back to the token on disk", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "stale-but-present"}))

		r, err := NewRefresher(RefresherConfig{
			Store: store,
			Fetch: func(ctx context.Context) (*oauth2.Token, error) {
				return nil, errors.New("upstream down")
			},
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		tok, ok := r.Token()
		require.True(t, ok)
		assert.Equal(t, "stale-but-present", tok.AccessToken)
	})

	t.Run("refreshes on the interval", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))

		var fetches atomic.Int64
		r, err := NewRefresher(RefresherConfig{
			Store:    store,
			Interval: 20 * time.Millisecond,
			Fetch: func(ctx context.Context) (*oauth2.Token, error) {
				n := fetches.Add(1)
				return &oauth2.Token{
					AccessToken: "tok-" + string(rune('0'+n)),
					Expiry:      time.Now().Add(time.Hour),
				}, nil
			},
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		require.Eventually(t, func() bool {
			return fetches.Load() >= 3
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("reload picks up an externally replaced token file", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "old"}))

		r, err := NewRefresher(RefresherConfig{
			Store:         store,
			DebounceDelay: 10 * time.Millisecond,
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		// Replace the file the way an external tool would.
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "new"}))

		require.Eventually(t, func() bool {
			tok, ok := r.Token()
			return ok && tok.AccessToken == "new"
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("explicit reload replaces the in-memory token", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(filepath.Join(dir, "token.json"))
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "old"}))

		r, err := NewRefresher(RefresherConfig{Store: store})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))
		defer r.Stop()

		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "new"}))
		require.NoError(t, r.Reload())

		tok, ok := r.Token()
		require.True(t, ok)
		assert.Equal(t, "new", tok.AccessToken)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "token.json"))
		require.NoError(t, store.Save(&oauth2.Token{AccessToken: "tok"}))

		r, err := NewRefresher(RefresherConfig{Store: store})
		require.NoError(t, err)
		require.NoError(t, r.Start(context.Background()))

		require.NoError(t, r.Stop())
		require.NoError(t, r.Stop())
	})
}

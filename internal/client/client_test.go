package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync/internal/core/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, rules map[string]ratelimit.Rule) (*Client, *time.Time) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(rules)
	limiter.Clock = func() time.Time { return now }

	c := New(limiter, srv.URL, "/api/search", 5*time.Second)
	return c, &now
}

func TestGetBypassesLimiter(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		ratelimit.DefaultKey: {Limit: 1, Window: time.Minute},
	})

	// Exhaust the default budget with a mutation.
	resp, err := c.Do(context.Background(), http.MethodPost, "/api/watchlist", []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	// Reads keep flowing regardless.
	for i := 0; i < 5; i++ {
		resp, err := c.Get(context.Background(), "/api/movies/42")
		require.NoError(t, err)
		resp.Body.Close() // nolint:errcheck
	}
}

func TestSearchGetIsGuarded(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		"search": {Limit: 1, Window: time.Minute},
	})
	c.MaxWait = 0 // fall back to DefaultMaxWait

	resp, err := c.Get(context.Background(), "/api/search?q=dune")
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	_, err = c.Get(context.Background(), "/api/search?q=dune2")
	var rl *ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "search", rl.Endpoint)
	assert.Equal(t, 60, rl.RetryAfterSeconds)
}

func TestDeniedRequestFailsWhenWaitExceedsMaxWait(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		"rating": {Limit: 1, Window: time.Minute},
	})

	resp, err := c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{"score":8}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	slept := false
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = true
		return nil
	}

	_, err = c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{"score":9}`))
	var rl *ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "rating", rl.Endpoint)
	assert.Equal(t, 60, rl.RetryAfterSeconds)
	assert.False(t, slept, "a wait beyond MaxWait must fail without sleeping")
}

func TestDeniedRequestWaitsAndRetriesOnce(t *testing.T) {
	c, now := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		"rating": {Limit: 1, Window: 10 * time.Second},
	})

	resp, err := c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{"score":8}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	sleeps := 0
	c.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		assert.Equal(t, 10*time.Second, d)
		*now = now.Add(d + time.Second)
		return nil
	}

	resp, err = c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{"score":9}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck
	assert.Equal(t, 1, sleeps)
}

func TestDeniedRetryStillBlockedFails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		"rating": {Limit: 1, Window: 10 * time.Second},
	})

	resp, err := c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	// Sleep does not advance the clock, so the retry is denied too.
	c.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	_, err = c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{}`))
	var rl *ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "rating", rl.Endpoint)
}

func TestSleepHonorsContextCancellation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, map[string]ratelimit.Rule{
		"rating": {Limit: 1, Window: 10 * time.Second},
	})

	resp, err := c.Do(context.Background(), http.MethodPost, "/api/rating", []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close() // nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Do(ctx, http.MethodPost, "/api/rating", []byte(`{}`))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackend429BecomesRateLimitedError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}, nil)

	_, err := c.Do(context.Background(), http.MethodPost, "/api/watchlist", []byte(`{}`))
	var rl *ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 30, rl.RetryAfterSeconds)
}

func TestRetryAfterHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"seconds", "45", 45 * time.Second},
		{"empty", "", 0},
		{"garbage", "soon", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			got, _ := retryAfterHeader(resp)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveURL(t *testing.T) {
	c := &Client{BaseURL: "http://backend.local"}

	assert.Equal(t, "http://backend.local/api/x", c.resolveURL("/api/x"))
	assert.Equal(t, "http://backend.local/api/x", c.resolveURL("api/x"))
	assert.Equal(t, "https://other.example/y", c.resolveURL("https://other.example/y"))
}

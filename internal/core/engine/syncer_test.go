package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelsync/reelsync/internal/client"
	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/core/events"
)

type cacheEntry struct {
	value   json.RawMessage
	expires time.Time
}

// memStore is an in-memory Store for engine tests. It mirrors the persistent
// store's semantics: upserts replace in place on (url, method, sync_key) and
// the queue keeps insertion order.
type memStore struct {
	mu    stdsync.Mutex
	ops   []core.SyncOperation
	cache map[string]cacheEntry
	now   func() time.Time
}

func newMemStore() *memStore {
	return &memStore{
		cache: make(map[string]cacheEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *memStore) UpsertOperation(ctx context.Context, op core.SyncOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op.EnqueuedAt = m.now()
	for i, existing := range m.ops {
		if existing.URL == op.URL && existing.Method == op.Method && existing.SyncKey == op.SyncKey {
			m.ops[i] = op
			return nil
		}
	}
	m.ops = append(m.ops, op)
	return nil
}

func (m *memStore) ListOperations(ctx context.Context) ([]core.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.SyncOperation(nil), m.ops...), nil
}

func (m *memStore) CountOperations(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops), nil
}

func (m *memStore) DrainOperations(ctx context.Context) ([]core.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.ops
	m.ops = nil
	return drained, nil
}

func (m *memStore) ResetQueue(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
	return nil
}

func (m *memStore) GetCached(ctx context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache[key]
	if !ok || !m.now().Before(entry.expires) {
		delete(m.cache, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *memStore) SetCached(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = cacheEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

func (m *memStore) DeleteCached(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

func (m *memStore) ClearCache(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := int64(len(m.cache))
	m.cache = make(map[string]cacheEntry)
	return removed, nil
}

func (m *memStore) SweepExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, entry := range m.cache {
		if !m.now().Before(entry.expires) {
			delete(m.cache, key)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) CacheStats(ctx context.Context) (*core.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &core.CacheStats{Entries: len(m.cache)}, nil
}

// scriptedBackend answers with function fields so tests can shape outcomes
// per call.
type scriptedBackend struct {
	DoFunc  func(ctx context.Context, method, path string, body []byte) (*http.Response, error)
	GetFunc func(ctx context.Context, path string) (*http.Response, error)
}

func (b *scriptedBackend) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	return b.DoFunc(ctx, method, path, body)
}

func (b *scriptedBackend) Get(ctx context.Context, path string) (*http.Response, error) {
	return b.GetFunc(ctx, path)
}

func httpResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func okBackend() *scriptedBackend {
	return &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			return httpResponse(http.StatusOK, ""), nil
		},
		GetFunc: func(ctx context.Context, path string) (*http.Response, error) {
			return httpResponse(http.StatusOK, `{"ok":true}`), nil
		},
	}
}

func drainEvents(ch <-chan events.Event) []events.Event {
	var got []events.Event
	for {
		select {
		case ev := <-ch:
			got = append(got, ev)
		default:
			return got
		}
	}
}

func TestSaveOnlineDeliversAndInvalidatesCache(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetCached(context.Background(), "/api/watchlist", json.RawMessage(`{"stale":true}`), time.Hour))

	s := New(store, okBackend(), nil, Options{})
	s.SetOnline(true)

	result, err := s.Save(context.Background(), "/api/watchlist", core.MethodPost, "watchlist-1", json.RawMessage(`{"movie":42}`))
	require.NoError(t, err)
	assert.False(t, result.Provisional)
	assert.JSONEq(t, `{"movie":42}`, string(result.Value))

	_, ok, err := store.GetCached(context.Background(), "/api/watchlist")
	require.NoError(t, err)
	assert.False(t, ok, "a delivered write must invalidate the cached entry")

	length, err := s.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, length)
}

func TestSaveOfflineBuffersProvisionally(t *testing.T) {
	store := newMemStore()
	bus := events.NewBus(8)
	ch, cancel := bus.Subscribe()
	defer cancel()

	s := New(store, okBackend(), bus, Options{})

	result, err := s.Save(context.Background(), "/api/rating/7", core.MethodPut, "rating-7", json.RawMessage(`{"score":8}`))
	require.NoError(t, err)
	assert.True(t, result.Provisional)
	assert.JSONEq(t, `{"score":8}`, string(result.Value))

	ops, err := s.Operations(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "rating-7", ops[0].SyncKey)
	assert.Equal(t, 0, ops[0].RetryCount)

	got := drainEvents(ch)
	require.Len(t, got, 1)
	assert.Equal(t, events.KindQueueUpdated, got[0].Kind)
	assert.Equal(t, 1, got[0].QueueLength)
}

func TestSaveReplacesDuplicateWrite(t *testing.T) {
	store := newMemStore()
	s := New(store, okBackend(), nil, Options{})

	_, err := s.Save(context.Background(), "/api/rating/7", core.MethodPut, "rating-7", json.RawMessage(`{"score":6}`))
	require.NoError(t, err)
	_, err = s.Save(context.Background(), "/api/rating/7", core.MethodPut, "rating-7", json.RawMessage(`{"score":9}`))
	require.NoError(t, err)

	ops, err := s.Operations(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1, "same (url, method, sync_key) must replace, not append")
	assert.JSONEq(t, `{"score":9}`, string(ops[0].Payload))
}

func TestSaveNetworkFailureBuffersAndGoesOffline(t *testing.T) {
	store := newMemStore()
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			return nil, fmt.Errorf("dial tcp: connection refused")
		},
	}

	s := New(store, backend, nil, Options{})
	s.SetOnline(true)

	result, err := s.Save(context.Background(), "/api/watchlist", core.MethodPost, "watchlist-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.Provisional)
	assert.False(t, s.Online(), "a network failure must flip the state offline")
}

func TestSaveRateLimitedIsNotBuffered(t *testing.T) {
	store := newMemStore()
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			return nil, &client.ErrRateLimited{Endpoint: "rating", RetryAfterSeconds: 42}
		},
	}

	s := New(store, backend, nil, Options{})
	s.SetOnline(true)

	_, err := s.Save(context.Background(), "/api/rating/7", core.MethodPut, "rating-7", json.RawMessage(`{}`))
	var rl *client.ErrRateLimited
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 42, rl.RetryAfterSeconds)

	length, err := s.QueueLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, length, "rate limited writes must not land in the queue")
	assert.True(t, s.Online())
}

func TestSyncReplaysInEnqueueOrder(t *testing.T) {
	store := newMemStore()

	var delivered []string
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			delivered = append(delivered, path)
			return httpResponse(http.StatusOK, ""), nil
		},
	}

	s := New(store, backend, nil, Options{})
	for i := 0; i < 3; i++ {
		_, err := s.Save(context.Background(), fmt.Sprintf("/api/op/%d", i), core.MethodPost, fmt.Sprintf("op-%d", i), json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	s.SetOnline(true)
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, []string{"/api/op/0", "/api/op/1", "/api/op/2"}, delivered)
}

func TestSyncMixedPassCounts(t *testing.T) {
	store := newMemStore()
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			if path == "/api/op/1" {
				return httpResponse(http.StatusBadGateway, ""), nil
			}
			return httpResponse(http.StatusOK, ""), nil
		},
	}

	s := New(store, backend, nil, Options{})
	for i := 0; i < 3; i++ {
		_, err := s.Save(context.Background(), fmt.Sprintf("/api/op/%d", i), core.MethodPost, fmt.Sprintf("op-%d", i), json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	s.SetOnline(true)
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Remaining)

	ops, err := s.Operations(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "/api/op/1", ops[0].URL)
	assert.Equal(t, 1, ops[0].RetryCount)
}

func TestSyncRequeuesFailuresUntilRetryCeiling(t *testing.T) {
	store := newMemStore()
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			return httpResponse(http.StatusBadGateway, ""), nil
		},
	}

	bus := events.NewBus(32)
	ch, cancel := bus.Subscribe()
	defer cancel()

	s := New(store, backend, bus, Options{MaxRetries: 3})
	_, err := s.Save(context.Background(), "/api/op", core.MethodPost, "op", json.RawMessage(`{}`))
	require.NoError(t, err)

	s.SetOnline(true)

	// Passes 1 and 2 requeue with bumped retry counts.
	for want := 1; want <= 2; want++ {
		result, err := s.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, result.Remaining)

		ops, err := s.Operations(context.Background())
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, want, ops[0].RetryCount)
	}

	// Pass 3 hits the ceiling and drops the operation.
	result, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Remaining)

	var failedEvents int
	for _, ev := range drainEvents(ch) {
		if ev.Kind == events.KindSyncOperationFailed {
			failedEvents++
			assert.Equal(t, "backend returned 502", ev.Error)
		}
	}
	assert.Equal(t, 3, failedEvents)
}

func TestSyncRateLimitedStopsPassAndRequeues(t *testing.T) {
	store := newMemStore()

	calls := 0
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			calls++
			return nil, &client.ErrRateLimited{Endpoint: "default", RetryAfterSeconds: 60}
		},
	}

	s := New(store, backend, nil, Options{})
	for i := 0; i < 3; i++ {
		_, err := s.Save(context.Background(), fmt.Sprintf("/api/op/%d", i), core.MethodPost, fmt.Sprintf("op-%d", i), json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	s.SetOnline(true)
	result, err := s.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "the pass must yield on the first rejection")
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 3, result.Remaining)

	ops, err := s.Operations(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for _, op := range ops {
		assert.Equal(t, 0, op.RetryCount, "a rate limited pass must not charge retries")
	}
}

func TestSyncConcurrentPassIsRejected(t *testing.T) {
	store := newMemStore()

	started := make(chan struct{})
	release := make(chan struct{})
	backend := &scriptedBackend{
		DoFunc: func(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
			close(started)
			<-release
			return httpResponse(http.StatusOK, ""), nil
		},
	}

	s := New(store, backend, nil, Options{})
	_, err := s.Save(context.Background(), "/api/op", core.MethodPost, "op", json.RawMessage(`{}`))
	require.NoError(t, err)

	s.SetOnline(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Sync(context.Background())
	}()

	<-started
	_, err = s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-done
}

func TestSyncOfflineFails(t *testing.T) {
	s := New(newMemStore(), okBackend(), nil, Options{})

	_, err := s.Sync(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
}

func TestGetOfflineServesFromCache(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetCached(context.Background(), "/api/movies/42", json.RawMessage(`{"title":"Dune"}`), time.Hour))

	backendCalled := false
	backend := &scriptedBackend{
		GetFunc: func(ctx context.Context, path string) (*http.Response, error) {
			backendCalled = true
			return httpResponse(http.StatusOK, `{}`), nil
		},
	}

	s := New(store, backend, nil, Options{})

	value, fromCache, err := s.Get(context.Background(), "/api/movies/42", false)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.JSONEq(t, `{"title":"Dune"}`, string(value))
	assert.False(t, backendCalled)
}

func TestGetOnlineFetchesAndCaches(t *testing.T) {
	store := newMemStore()
	backend := &scriptedBackend{
		GetFunc: func(ctx context.Context, path string) (*http.Response, error) {
			return httpResponse(http.StatusOK, `{"title":"Dune"}`), nil
		},
	}

	s := New(store, backend, nil, Options{CacheTTL: time.Hour})
	s.SetOnline(true)

	value, fromCache, err := s.Get(context.Background(), "/api/movies/42", false)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.JSONEq(t, `{"title":"Dune"}`, string(value))

	cached, ok, err := store.GetCached(context.Background(), "/api/movies/42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"Dune"}`, string(cached))
}

func TestGetFallsBackToCacheOnNetworkFailure(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetCached(context.Background(), "/api/movies/42", json.RawMessage(`{"title":"Dune"}`), time.Hour))

	bus := events.NewBus(8)
	ch, cancel := bus.Subscribe()
	defer cancel()

	backend := &scriptedBackend{
		GetFunc: func(ctx context.Context, path string) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	s := New(store, backend, bus, Options{})
	s.SetOnline(true)

	value, fromCache, err := s.Get(context.Background(), "/api/movies/42", false)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.JSONEq(t, `{"title":"Dune"}`, string(value))

	kinds := map[events.Kind]bool{}
	for _, ev := range drainEvents(ch) {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[events.KindFetchError])
	assert.True(t, kinds[events.KindDataFetched])
}

func TestGetRefreshDoesNotServeStale(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.SetCached(context.Background(), "/api/movies/42", json.RawMessage(`{"title":"Dune"}`), time.Hour))

	backend := &scriptedBackend{
		GetFunc: func(ctx context.Context, path string) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}

	s := New(store, backend, nil, Options{})
	s.SetOnline(true)

	_, _, err := s.Get(context.Background(), "/api/movies/42", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGetMissOfflineFails(t *testing.T) {
	s := New(newMemStore(), okBackend(), nil, Options{})

	_, _, err := s.Get(context.Background(), "/api/movies/42", false)
	assert.ErrorIs(t, err, ErrOffline)
}

func TestSetOnlineEmitsStatusChangeOnce(t *testing.T) {
	bus := events.NewBus(8)
	ch, cancel := bus.Subscribe()
	defer cancel()

	s := New(newMemStore(), okBackend(), bus, Options{})

	s.SetOnline(true)
	s.SetOnline(true)
	s.SetOnline(false)

	got := drainEvents(ch)
	require.Len(t, got, 2, "repeated transitions to the same state must not emit")
	assert.Equal(t, events.KindStatusChange, got[0].Kind)
	require.NotNil(t, got[0].Online)
	assert.True(t, *got[0].Online)
	require.NotNil(t, got[1].Online)
	assert.False(t, *got[1].Online)
}

func TestAutoSyncRunsOnReconnect(t *testing.T) {
	store := newMemStore()
	bus := events.NewBus(32)
	ch, cancel := bus.Subscribe()
	defer cancel()

	s := New(store, okBackend(), bus, Options{AutoSync: true})
	_, err := s.Save(context.Background(), "/api/op", core.MethodPost, "op", json.RawMessage(`{}`))
	require.NoError(t, err)

	s.SetOnline(true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindSyncCompleted {
				assert.Equal(t, 1, ev.Synced)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the auto sync pass")
		}
	}
}

func TestStatusReflectsQueueAndConnectivity(t *testing.T) {
	s := New(newMemStore(), okBackend(), nil, Options{})
	_, err := s.Save(context.Background(), "/api/op", core.MethodPost, "op", json.RawMessage(`{}`))
	require.NoError(t, err)

	status, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Online)
	assert.False(t, status.InProgress)
	assert.Equal(t, 1, status.QueueLength)
}

// Package engine coordinates the offline write queue, the response cache and
// the connectivity state. The Syncer is the single entry point the server and
// the CLI use to save, fetch and replay tracker data.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/reelsync/reelsync/internal/client"
	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/core/events"
	"github.com/reelsync/reelsync/internal/metrics"
)

// Sentinel errors for callers that need to branch on outcome.
var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrOffline        = errors.New("backend is offline")
)

// Store persists the sync queue and the response cache.
type Store interface {
	UpsertOperation(ctx context.Context, op core.SyncOperation) error
	ListOperations(ctx context.Context) ([]core.SyncOperation, error)
	CountOperations(ctx context.Context) (int, error)
	DrainOperations(ctx context.Context) ([]core.SyncOperation, error)
	ResetQueue(ctx context.Context) error

	GetCached(ctx context.Context, key string) (json.RawMessage, bool, error)
	SetCached(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	DeleteCached(ctx context.Context, key string) error
	ClearCache(ctx context.Context) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
	CacheStats(ctx context.Context) (*core.CacheStats, error)
}

// Backend issues the actual HTTP calls. *client.Client satisfies it.
type Backend interface {
	Do(ctx context.Context, method, path string, body []byte) (*http.Response, error)
	Get(ctx context.Context, path string) (*http.Response, error)
}

// Options tunes Syncer behavior.
type Options struct {
	// MaxRetries is how many replay attempts an operation gets before it is
	// dropped. Zero means the default of 3.
	MaxRetries int

	// CacheTTL is how long fetched responses stay valid. Zero means the
	// default of 24 hours.
	CacheTTL time.Duration

	// ReplayRate paces queue replay in operations per second. Zero or
	// negative disables pacing.
	ReplayRate float64

	// ReplayBurst is the pacer burst size, minimum 1.
	ReplayBurst int

	// AutoSync triggers a replay pass whenever connectivity returns.
	AutoSync bool
}

const (
	defaultMaxRetries = 3
	defaultCacheTTL   = 24 * time.Hour
)

// Syncer owns the offline queue and cache lifecycle.
type Syncer struct {
	store   Store
	backend Backend
	bus     *events.Bus
	opts    Options
	pacer   *rate.Limiter

	mu         stdsync.Mutex
	online     bool
	inProgress bool
}

// New builds a Syncer. The bus may be nil when no one listens.
func New(store Store, backend Backend, bus *events.Bus, opts Options) *Syncer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}

	var pacer *rate.Limiter
	if opts.ReplayRate > 0 {
		burst := opts.ReplayBurst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(opts.ReplayRate), burst)
	}

	return &Syncer{
		store:   store,
		backend: backend,
		bus:     bus,
		opts:    opts,
		pacer:   pacer,
	}
}

// Save writes data to the backend, or buffers the write when the backend is
// unreachable. A buffered write comes back as a provisional echo of the
// payload; it is confirmed only when a later replay pass delivers it.
//
// Admission rejections are not buffered: the caller asked too often and gets
// the rate limit error back.
func (s *Syncer) Save(ctx context.Context, url string, method core.Method, syncKey string, payload json.RawMessage) (*core.SaveResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !method.Valid() {
		return nil, fmt.Errorf("invalid method %q", method)
	}

	if !s.Online() {
		return s.buffer(ctx, url, method, syncKey, payload)
	}

	resp, err := s.backend.Do(ctx, string(method), url, payload)
	if err != nil {
		var rl *client.ErrRateLimited
		if errors.As(err, &rl) {
			return nil, err
		}
		// Network failure: treat as offline and buffer the write.
		s.SetOnline(false)
		return s.buffer(ctx, url, method, syncKey, payload)
	}
	defer resp.Body.Close() // nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read save response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("save %s %s: backend returned %d", method, url, resp.StatusCode)
	}

	// The entry cached for this URL is stale now.
	if err := s.store.DeleteCached(ctx, url); err != nil {
		return nil, fmt.Errorf("invalidate cache: %w", err)
	}

	value := json.RawMessage(body)
	if len(body) == 0 {
		value = payload
	}
	return &core.SaveResult{Value: value}, nil
}

// buffer upserts the operation into the queue and reports the new length.
func (s *Syncer) buffer(ctx context.Context, url string, method core.Method, syncKey string, payload json.RawMessage) (*core.SaveResult, error) {
	op := core.SyncOperation{
		ID:      uuid.New().String(),
		URL:     url,
		Method:  method,
		SyncKey: syncKey,
		Payload: payload,
	}

	if err := s.store.UpsertOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("enqueue operation: %w", err)
	}

	length, err := s.store.CountOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	metrics.SetQueueLength(length)

	s.publish(events.Event{
		Kind:        events.KindQueueUpdated,
		OperationID: op.ID,
		URL:         url,
		SyncKey:     syncKey,
		QueueLength: length,
	})

	return &core.SaveResult{Value: payload, Provisional: true}, nil
}

// Sync snapshots the queue and replays it in enqueue order. Operations that
// fail are requeued with an incremented retry count until the retry ceiling
// drops them. Only one pass runs at a time; a concurrent call returns
// ErrSyncInProgress without touching the queue.
func (s *Syncer) Sync(ctx context.Context) (*core.SyncResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	if !s.online {
		s.mu.Unlock()
		return nil, ErrOffline
	}
	s.inProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
	}()

	s.publish(events.Event{Kind: events.KindSyncStarted})

	ops, err := s.store.DrainOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain queue: %w", err)
	}

	result := &core.SyncResult{}

	for i, op := range ops {
		if err := s.pace(ctx); err != nil {
			// Interrupted pass: put the unprocessed tail back untouched.
			s.requeue(ops[i:])
			return nil, err
		}

		if stop := s.replay(ctx, op, result); stop {
			s.requeue(ops[i+1:])
			break
		}
	}

	remaining, err := s.store.CountOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	result.Remaining = remaining

	metrics.RecordSyncPass(result.Failed == 0)
	metrics.SetQueueLength(remaining)

	s.publish(events.Event{
		Kind:      events.KindSyncCompleted,
		Synced:    result.Synced,
		Failed:    result.Failed,
		Remaining: remaining,
	})

	return result, nil
}

// replay delivers one operation. It returns true when the pass should stop
// early, which happens when the limiter or the backend pushes back.
func (s *Syncer) replay(ctx context.Context, op core.SyncOperation, result *core.SyncResult) bool {
	resp, err := s.backend.Do(ctx, string(op.Method), op.URL, op.Payload)
	if err != nil {
		var rl *client.ErrRateLimited
		if errors.As(err, &rl) {
			// Not the operation's fault. Requeue unchanged and yield.
			s.requeue([]core.SyncOperation{op})
			return true
		}
		s.fail(ctx, op, err.Error(), result)
		return false
	}
	resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.fail(ctx, op, fmt.Sprintf("backend returned %d", resp.StatusCode), result)
		return false
	}

	result.Synced++
	metrics.RecordSyncOperation("success")
	s.publish(events.Event{
		Kind:        events.KindSyncOperationOK,
		OperationID: op.ID,
		URL:         op.URL,
		SyncKey:     op.SyncKey,
		RetryCount:  op.RetryCount,
	})

	// A delivered write invalidates whatever was cached for its URL.
	_ = s.store.DeleteCached(ctx, op.URL)

	return false
}

// fail counts a delivery failure, requeueing the operation unless it has
// exhausted its retries.
func (s *Syncer) fail(ctx context.Context, op core.SyncOperation, reason string, result *core.SyncResult) {
	result.Failed++
	op.RetryCount++

	s.publish(events.Event{
		Kind:        events.KindSyncOperationFailed,
		OperationID: op.ID,
		URL:         op.URL,
		SyncKey:     op.SyncKey,
		RetryCount:  op.RetryCount,
		Error:       reason,
	})

	if op.RetryCount >= s.opts.MaxRetries {
		metrics.RecordSyncOperation("dropped")
		return
	}

	metrics.RecordSyncOperation("retried")
	if err := s.store.UpsertOperation(ctx, op); err != nil {
		metrics.RecordSyncOperation("dropped")
	}
}

// requeue puts drained operations back without altering retry counts. Errors
// here are swallowed: the pass is already unwinding.
func (s *Syncer) requeue(ops []core.SyncOperation) {
	for _, op := range ops {
		_ = s.store.UpsertOperation(context.Background(), op)
	}
}

func (s *Syncer) pace(ctx context.Context) error {
	if s.pacer == nil {
		return nil
	}
	return s.pacer.Wait(ctx)
}

// Get reads data for a key. Online, the backend is fetched and the response
// written through to the cache; a transport failure falls back to a valid
// cached entry unless refresh forces a fresh read. Offline, only the cache is
// consulted and a miss fails with ErrOffline. The second return reports
// whether the value came from the cache.
func (s *Syncer) Get(ctx context.Context, key string, refresh bool) (json.RawMessage, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.Online() {
		return s.fromCache(ctx, key, ErrOffline)
	}

	value, err := s.fetch(ctx, key)
	if err == nil {
		s.publish(events.Event{Kind: events.KindDataFetched, Key: key, FromCache: false})
		return value, false, nil
	}

	var rl *client.ErrRateLimited
	if errors.As(err, &rl) {
		return nil, false, err
	}

	s.publish(events.Event{Kind: events.KindFetchError, Key: key, Error: err.Error()})
	if refresh {
		return nil, false, err
	}
	return s.fromCache(ctx, key, err)
}

// fetch performs the backend read and writes the response through to the
// cache.
func (s *Syncer) fetch(ctx context.Context, key string) (json.RawMessage, error) {
	resp, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: backend returned %d", key, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fetch response: %w", err)
	}

	if err := s.store.SetCached(ctx, key, body, s.opts.CacheTTL); err != nil {
		return nil, fmt.Errorf("write cache: %w", err)
	}
	return body, nil
}

// fromCache serves a valid cached entry, or fails with cause when there is
// none.
func (s *Syncer) fromCache(ctx context.Context, key string, cause error) (json.RawMessage, bool, error) {
	value, ok, err := s.store.GetCached(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("read cache: %w", err)
	}
	if !ok {
		metrics.RecordCacheLookup(false)
		s.publish(events.Event{Kind: events.KindFetchError, Key: key, Error: cause.Error()})
		return nil, false, cause
	}

	metrics.RecordCacheLookup(true)
	s.publish(events.Event{Kind: events.KindDataFetched, Key: key, FromCache: true})
	return value, true, nil
}

// SetOnline records a connectivity transition. Coming back online triggers a
// background replay pass when AutoSync is enabled.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if !changed {
		return
	}

	s.publish(events.Event{Kind: events.KindStatusChange, Online: &online})

	if online && s.opts.AutoSync {
		go func() {
			_, _ = s.Sync(context.Background())
		}()
	}
}

// Online reports the current connectivity state.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Status summarizes connectivity, replay state and queue depth.
func (s *Syncer) Status(ctx context.Context) (*core.SyncStatus, error) {
	length, err := s.store.CountOperations(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &core.SyncStatus{
		Online:      s.online,
		InProgress:  s.inProgress,
		QueueLength: length,
	}, nil
}

// Operations lists the queue in replay order.
func (s *Syncer) Operations(ctx context.Context) ([]core.SyncOperation, error) {
	return s.store.ListOperations(ctx)
}

// QueueLength returns the number of buffered operations.
func (s *Syncer) QueueLength(ctx context.Context) (int, error) {
	return s.store.CountOperations(ctx)
}

// ResetQueue discards every buffered operation.
func (s *Syncer) ResetQueue(ctx context.Context) error {
	if err := s.store.ResetQueue(ctx); err != nil {
		return err
	}
	metrics.SetQueueLength(0)
	s.publish(events.Event{Kind: events.KindQueueUpdated, QueueLength: 0})
	return nil
}

// ClearCache removes every cached entry.
func (s *Syncer) ClearCache(ctx context.Context) (int64, error) {
	removed, err := s.store.ClearCache(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(events.Event{Kind: events.KindCacheCleared, Removed: int(removed)})
	return removed, nil
}

// SweepExpiredCache removes entries past their TTL.
func (s *Syncer) SweepExpiredCache(ctx context.Context) (int64, error) {
	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(events.Event{Kind: events.KindCacheExpiredCleared, Removed: int(removed)})
	return removed, nil
}

// CacheStats reports cache table statistics.
func (s *Syncer) CacheStats(ctx context.Context) (*core.CacheStats, error) {
	return s.store.CacheStats(ctx)
}

func (s *Syncer) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

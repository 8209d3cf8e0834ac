// Package events provides the typed publish/subscribe channel used to report
// sync and cache lifecycle transitions to UI consumers.
package events

import (
	"sync"
	"time"
)

// Kind identifies a lifecycle event variant.
type Kind string

const (
	KindStatusChange        Kind = "status_change"
	KindSyncStarted         Kind = "sync_started"
	KindSyncCompleted       Kind = "sync_completed"
	KindSyncOperationOK     Kind = "sync_operation_success"
	KindSyncOperationFailed Kind = "sync_operation_failed"
	KindQueueUpdated        Kind = "queue_updated"
	KindDataFetched         Kind = "data_fetched"
	KindFetchError          Kind = "fetch_error"
	KindCacheCleared        Kind = "cache_cleared"
	KindCacheExpiredCleared Kind = "cache_expired_cleared"
)

// Event is one lifecycle notification. Fields beyond Kind and At are
// populated per variant.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// status_change
	Online *bool `json:"online,omitempty"`

	// sync_operation_* and queue_updated
	OperationID string `json:"operation_id,omitempty"`
	URL         string `json:"url,omitempty"`
	SyncKey     string `json:"sync_key,omitempty"`
	RetryCount  int    `json:"retry_count,omitempty"`

	// sync_completed
	Synced    int `json:"synced,omitempty"`
	Failed    int `json:"failed,omitempty"`
	Remaining int `json:"remaining,omitempty"`

	// data_fetched / fetch_error / queue_updated
	Key         string `json:"key,omitempty"`
	FromCache   bool   `json:"from_cache,omitempty"`
	Error       string `json:"error,omitempty"`
	QueueLength int    `json:"queue_length,omitempty"`

	// cache_cleared / cache_expired_cleared
	Removed int `json:"removed,omitempty"`
}

// Bus is a broadcast channel over Event. Publish never blocks: subscribers
// that fall behind their buffer miss events rather than stalling the
// publisher.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

// NewBus creates a bus whose subscriber channels buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 32
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Publish delivers the event to every current subscriber. The timestamp is
// stamped here when the caller left it zero.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

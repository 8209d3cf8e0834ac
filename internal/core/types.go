package core

import (
	"encoding/json"
	"time"
)

// Method identifies a mutating HTTP method carried by a queued operation.
type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Valid reports whether the method is one of the mutating methods the queue
// accepts.
func (m Method) Valid() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
		return true
	}
	return false
}

// SyncOperation is one deferred mutation buffered while the backend is
// unreachable. Two operations with the same (URL, Method, SyncKey) are the
// same logical write; enqueueing the second replaces the first in place.
type SyncOperation struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	Method     Method          `json:"method"`
	SyncKey    string          `json:"sync_key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// SyncResult aggregates the outcome of one replay pass.
type SyncResult struct {
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// SyncStatus is the introspection projection exposed to UI consumers.
type SyncStatus struct {
	Online      bool `json:"online"`
	InProgress  bool `json:"in_progress"`
	QueueLength int  `json:"queue_length"`
}

// SaveResult reports the outcome of a write. When the write was buffered
// offline, Provisional is true and Value echoes the caller's payload; the
// write is not confirmed until a later sync pass replays it.
type SaveResult struct {
	Value       json.RawMessage `json:"value,omitempty"`
	Provisional bool            `json:"provisional"`
}

// CacheStats summarizes the cache table.
type CacheStats struct {
	Entries        int        `json:"entries"`
	Expired        int        `json:"expired"`
	OldestStoredAt *time.Time `json:"oldest_stored_at,omitempty"`
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/core/engine"
	apperrors "github.com/reelsync/reelsync/internal/errors"
)

// TriggerSync runs one replay pass over the queue.
func (a *API) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.Syncer.Sync(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSyncInProgress):
			respondWithError(w, r, apperrors.NewConflictError("a sync pass is already running"))
		case errors.Is(err, engine.ErrOffline):
			respondWithError(w, r, apperrors.NewServiceUnavailableError("cannot sync while the backend is offline"))
		default:
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "sync pass failed"))
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SyncStatus reports connectivity, replay state and queue depth.
func (a *API) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.Syncer.Status(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "read sync status"))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// QueueResponse is the body returned by the queue listing.
type QueueResponse struct {
	Operations []core.SyncOperation `json:"operations"`
	Length     int                  `json:"length"`
}

// ListQueue returns the buffered operations in replay order.
func (a *API) ListQueue(w http.ResponseWriter, r *http.Request) {
	ops, err := a.Syncer.Operations(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "list queue"))
		return
	}
	if ops == nil {
		ops = []core.SyncOperation{}
	}

	writeJSON(w, http.StatusOK, QueueResponse{Operations: ops, Length: len(ops)})
}

// ResetQueue discards every buffered operation.
func (a *API) ResetQueue(w http.ResponseWriter, r *http.Request) {
	if err := a.Syncer.ResetQueue(r.Context()); err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "reset queue"))
		return
	}

	writeJSON(w, http.StatusOK, QueueResponse{Operations: []core.SyncOperation{}, Length: 0})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/reelsync/reelsync/internal/client"
	"github.com/reelsync/reelsync/internal/core"
	"github.com/reelsync/reelsync/internal/core/engine"
	apperrors "github.com/reelsync/reelsync/internal/errors"
)

// SaveRequest is the body accepted by the save endpoint.
type SaveRequest struct {
	URL     string          `json:"url"`
	Method  string          `json:"method"`
	SyncKey string          `json:"sync_key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SaveData writes tracker data through the syncer. Buffered writes come back
// as 202 with a provisional echo; delivered writes as 200.
func (a *API) SaveData(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("request body must be valid JSON"))
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	req.SyncKey = strings.TrimSpace(req.SyncKey)
	method := core.Method(strings.ToUpper(strings.TrimSpace(req.Method)))

	if req.URL == "" || req.SyncKey == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("url and sync_key are required"))
		return
	}
	if !method.Valid() {
		respondWithError(w, r, apperrors.NewInvalidInputError("method must be POST, PUT, PATCH or DELETE"))
		return
	}

	result, err := a.Syncer.Save(r.Context(), req.URL, method, req.SyncKey, req.Payload)
	if err != nil {
		var rl *client.ErrRateLimited
		if errors.As(err, &rl) {
			respondWithError(w, r, apperrors.NewRateLimitedError(rl.Error(), rl.RetryAfterSeconds))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "save failed"))
		return
	}

	status := http.StatusOK
	if result.Provisional {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// DataResponse is the body returned by the fetch endpoint.
type DataResponse struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	FromCache bool            `json:"from_cache"`
}

// GetData reads tracker data, falling back to the cache when the backend
// cannot be reached. refresh=true forces a fresh backend read.
func (a *API) GetData(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("query parameter key is required"))
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	value, fromCache, err := a.Syncer.Get(r.Context(), key, refresh)
	if err != nil {
		if errors.Is(err, engine.ErrOffline) {
			respondWithError(w, r, apperrors.NewServiceUnavailableError("backend is offline and the key is not cached"))
			return
		}
		var rl *client.ErrRateLimited
		if errors.As(err, &rl) {
			respondWithError(w, r, apperrors.NewRateLimitedError(rl.Error(), rl.RetryAfterSeconds))
			return
		}
		respondWithError(w, r, apperrors.WrapExternalService(r.Context(), err, "fetch failed"))
		return
	}

	writeJSON(w, http.StatusOK, DataResponse{Key: key, Value: value, FromCache: fromCache})
}

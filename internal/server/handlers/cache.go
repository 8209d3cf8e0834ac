package handlers

import (
	"net/http"

	apperrors "github.com/reelsync/reelsync/internal/errors"
)

// CacheMutationResponse reports how many entries a clear or sweep removed.
type CacheMutationResponse struct {
	Removed int64 `json:"removed"`
}

// CacheStats reports cache table statistics.
func (a *API) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.Syncer.CacheStats(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "read cache stats"))
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ClearCache removes every cached entry.
func (a *API) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := a.Syncer.ClearCache(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "clear cache"))
		return
	}

	writeJSON(w, http.StatusOK, CacheMutationResponse{Removed: removed})
}

// SweepCache removes entries past their TTL.
func (a *API) SweepCache(w http.ResponseWriter, r *http.Request) {
	removed, err := a.Syncer.SweepExpiredCache(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "sweep cache"))
		return
	}

	writeJSON(w, http.StatusOK, CacheMutationResponse{Removed: removed})
}

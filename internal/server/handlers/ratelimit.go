package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reelsync/reelsync/internal/core/ratelimit"
	apperrors "github.com/reelsync/reelsync/internal/errors"
)

// RateLimitEntry is the API projection of one endpoint class budget.
// Durations are expressed in whole seconds for UI consumers.
type RateLimitEntry struct {
	Key               string `json:"key"`
	Limit             int    `json:"limit"`
	WindowSeconds     int    `json:"window_seconds"`
	InWindow          int    `json:"in_window"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// RateLimitListResponse wraps the snapshot listing.
type RateLimitListResponse struct {
	Limits []RateLimitEntry `json:"limits"`
}

// ListRateLimits returns the current budget and usage per endpoint class.
func (a *API) ListRateLimits(w http.ResponseWriter, r *http.Request) {
	snapshot := a.Limiter.Snapshot()

	entries := make([]RateLimitEntry, 0, len(snapshot))
	for _, entry := range snapshot {
		entries = append(entries, RateLimitEntry{
			Key:               entry.Key,
			Limit:             entry.Limit,
			WindowSeconds:     int(entry.Window / time.Second),
			InWindow:          entry.InWindow,
			Remaining:         entry.Remaining,
			RetryAfterSeconds: int(math.Ceil(entry.RetryAfter.Seconds())),
		})
	}

	writeJSON(w, http.StatusOK, RateLimitListResponse{Limits: entries})
}

// RateLimitUpdateRequest is the body accepted by the budget update endpoint.
type RateLimitUpdateRequest struct {
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}

// UpdateRateLimit replaces the budget for one endpoint class.
func (a *API) UpdateRateLimit(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint class key is required"))
		return
	}

	var req RateLimitUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("request body must be valid JSON"))
		return
	}
	if req.Limit <= 0 || req.WindowSeconds <= 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("limit and window_seconds must be positive"))
		return
	}

	a.Limiter.SetRule(key, ratelimit.Rule{
		Limit:  req.Limit,
		Window: time.Duration(req.WindowSeconds) * time.Second,
	})

	writeJSON(w, http.StatusOK, RateLimitEntry{
		Key:           key,
		Limit:         req.Limit,
		WindowSeconds: req.WindowSeconds,
		Remaining:     req.Limit,
	})
}

// ResetRateLimits clears the request log for one endpoint class, or every
// class when no key query parameter is given.
func (a *API) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		a.Limiter.Reset()
	} else {
		a.Limiter.Reset(key)
	}

	w.WriteHeader(http.StatusNoContent)
}

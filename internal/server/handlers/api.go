package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/reelsync/reelsync/internal/core/engine"
	"github.com/reelsync/reelsync/internal/core/events"
	"github.com/reelsync/reelsync/internal/core/ratelimit"
)

// API carries the dependencies the data, sync, cache and rate limit handlers
// operate on.
type API struct {
	Syncer  *engine.Syncer
	Limiter *ratelimit.Limiter
	Bus     *events.Bus
}

// NewAPI bundles the handler dependencies.
func NewAPI(syncer *engine.Syncer, limiter *ratelimit.Limiter, bus *events.Bus) *API {
	return &API{Syncer: syncer, Limiter: limiter, Bus: bus}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/reelsync/reelsync/internal/errors"
)

// StreamEvents pushes lifecycle events to the caller as server-sent events.
// The stream stays open until the client disconnects.
func (a *API) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if a.Bus == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("event bus not available"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, r, apperrors.NewInternalError("streaming not supported by this connection"))
		return
	}

	ch, cancel := a.Bus.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}

			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, payload)
			flusher.Flush()
		}
	}
}

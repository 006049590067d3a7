package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/faceswap-kiosk/internal/tracker"
)

// jobEventsHandler streams a job's snapshots as server-sent events until the
// job ends or the client goes away. A job that already ended yields a single
// event.
func jobEventsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		tr := cfg.Session.Tracker()

		h, live := tr.Current(id)
		if !live {
			snap, ok := tr.Lookup(id)
			if !ok {
				WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
				return
			}
			rc := startStream(w)
			writeEvent(w, tracker.Event{Kind: tracker.EventSnapshot, Snapshot: snap})
			rc.Flush()
			return
		}

		events, stop := h.Subscribe()
		defer stop()

		rc := startStream(w)
		ping := time.NewTicker(cfg.KeepAlive)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case <-ping.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

func startStream(w http.ResponseWriter) *http.ResponseController {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rc.Flush()
	return rc
}

func writeEvent(w http.ResponseWriter, ev tracker.Event) error {
	data, err := json.Marshal(SnapshotToResponse(ev.Snapshot))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

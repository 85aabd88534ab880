package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"kasse/internal/log"
	"kasse/internal/services"
	"kasse/internal/worker"
)

// handleEvents streams the fund as Server-Sent Events. The current state is
// sent first, then one "fund" event per watcher refresh. When the fund
// disappears a final "gone" event ends the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	view, err := s.svc.Lookup(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, "fund", view); err != nil {
		return
	}

	updates := make(chan services.View, 1)
	gone := make(chan struct{})
	watcher := worker.NewWatcher(s.notifier, worker.WatcherConfig{
		Interval: s.interval,
		OnLost:   func(error) { close(gone) },
	})

	refresh := func(ctx context.Context, _ string) error {
		v, err := s.svc.Lookup(ctx, id)
		if err != nil {
			return err
		}
		// keep only the newest view if the client is slow
		select {
		case <-updates:
		default:
		}
		updates <- v
		return nil
	}
	if err := watcher.Start(ctx, refresh); err != nil {
		return
	}
	defer watcher.Stop()

	logger := log.FromContext(ctx)
	logger.DebugContext(ctx, "Event stream opened", log.FieldFundID, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closing:
			logger.DebugContext(ctx, "Event stream closed by shutdown", log.FieldFundID, id)
			return
		case <-gone:
			_ = writeEvent(w, rc, "gone", map[string]string{"id": id})
			return
		case v := <-updates:
			if err := writeEvent(w, rc, "fund", v); err != nil {
				logger.DebugContext(ctx, "Event stream closed", log.FieldFundID, id, log.FieldError, err)
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/romstack/romstack/internal/logger"
	"github.com/romstack/romstack/pkg/broadcast"
)

// EventsHandler streams upload progress over Server-Sent Events.
type EventsHandler struct {
	bus *broadcast.Broadcaster
}

// NewEventsHandler creates the SSE endpoint.
func NewEventsHandler(bus *broadcast.Broadcaster) *EventsHandler {
	return &EventsHandler{bus: bus}
}

// Stream handles GET /upload/events/{id}. The stream replays the latest
// snapshot, then delivers live events until a terminal event or client
// disconnect. Event IDs carry the sequence number so clients can detect gaps.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		BadRequest(w, "streaming unsupported by this connection")
		return
	}

	uploadID := chi.URLParam(r, "id")
	sub := h.bus.Subscribe(uploadID)
	defer h.bus.Unsubscribe(sub)

	// The stream has to outlive the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("SSE write deadline reset failed", "upload_id", uploadID, "error", err.Error())
	}

	// SSE responses must not buffer.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				logger.Debug("SSE write failed", "upload_id", uploadID, "error", err.Error())
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev broadcast.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, payload)
	return err
}

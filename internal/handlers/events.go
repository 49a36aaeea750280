package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/gamemaster/internal/services/events"
)

// KeepaliveInterval is how often an idle event stream gets a comment line.
var KeepaliveInterval = 30 * time.Second

// EventsHandler streams a save's game events as Server-Sent Events.
type EventsHandler struct {
	events events.Subscriber
	logger *slog.Logger
}

func NewEventsHandler(sub events.Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: sub, logger: logger}
}

// Register adds the events route to mux.
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/saves/{save}/events", h)
}

// ServeHTTP handles GET /v1/saves/{save}/events. Browsers cannot set headers
// on an EventSource, so the user may also come from the "user" query value.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UsernameHeader)
	if user == "" {
		user = r.URL.Query().Get("user")
	}
	saveID := r.PathValue("save")
	if user == "" || saveID == "" {
		responder{logger: h.logger}.badRequest(w, "Missing username or save name.")
		return
	}

	stream, cancel, err := h.events.Subscribe(r.Context(), user, saveID)
	if err != nil {
		responder{logger: h.logger}.fail(w, r, fmt.Errorf("failed to subscribe to events: %w", err))
		return
	}
	defer cancel()

	h.logger.Info("SSE connection established",
		"user", user,
		"save", saveID,
		"remote_addr", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.sendSSE(w, "connected", map[string]any{
		"save":    saveID,
		"message": "Connected to event stream",
	})

	keepalive := time.NewTicker(KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "user", user, "save", saveID)
			return

		case event, ok := <-stream:
			if !ok {
				return
			}
			h.sendSSE(w, string(event.Type), event)

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				h.logger.Error("Failed to write keepalive", "error", err)
				return
			}
			flush(w)
		}
	}
}

func (h *EventsHandler) sendSSE(w http.ResponseWriter, eventType string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("Failed to marshal SSE data", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, dataJSON); err != nil {
		h.logger.Error("Failed to write event", "error", err)
		return
	}
	flush(w)
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

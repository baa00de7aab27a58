package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/presenceapp/presence/internal/session"
)

// sendSSEEvent writes one server-sent event and flushes it to the client.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// Events streams the project's session events over SSE. The stream opens
// with a status snapshot, then forwards marker and error events until the
// session stops or the client disconnects.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	s, err := h.manager.Get(user, project)
	if errors.Is(err, session.ErrNoSession) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	eventCh := s.AddListener()
	defer s.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "status", h.manager.Status(user, project))

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event.Data)
			if event.Type == session.EventStopped {
				return
			}
		}
	}
}

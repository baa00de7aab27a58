package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/presenceapp/presence/internal/attendance"
	"github.com/presenceapp/presence/internal/session"
)

// maxFrameBytes caps the accepted frame upload size.
const maxFrameBytes = 10 << 20 // 10 MiB

// SessionHandler exposes the live recognition session lifecycle.
type SessionHandler struct {
	manager *session.Manager
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

type startSessionRequest struct {
	Period string `json:"period,omitempty"` // "daily" (default) or "sessional"
}

// Start starts a recognition session for the project.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	var req startSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return
		}
	}
	policy, err := attendance.ParsePolicy(req.Period)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err = h.manager.Start(r.Context(), user, project, policy)
	switch {
	case errors.Is(err, session.ErrSessionRunning):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, session.ErrNoGallery):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, session.ErrNoRoster):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Printf("Session %s/%s: start failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	respondJSON(w, http.StatusOK, h.manager.Status(user, project))
}

// Stop stops the project's session and returns the final tally.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	summary, err := h.manager.Stop(r.Context(), user, project)
	if errors.Is(err, session.ErrNoSession) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Printf("Session %s/%s: stop failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to stop session")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// Status returns the current session snapshot. Projects without a live
// session report running: false.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")
	respondJSON(w, http.StatusOK, h.manager.Status(user, project))
}

type frameResponse struct {
	Accepted bool `json:"accepted"`
}

// Frame enqueues one JPEG frame for the project's session. A full queue
// drops the frame; the response reports accepted: false but stays HTTP 200
// because dropping under backpressure is normal operation.
func (h *SessionHandler) Frame(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	project := chi.URLParam(r, "project")

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read frame body")
		return
	}
	if len(frame) == 0 {
		respondError(w, http.StatusBadRequest, "empty frame body")
		return
	}
	if len(frame) > maxFrameBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "frame too large")
		return
	}

	accepted, err := h.manager.Enqueue(user, project, frame)
	if errors.Is(err, session.ErrNoSession) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		log.Printf("Session %s/%s: enqueue failed: %v", sanitizeForLog(user), sanitizeForLog(project), err)
		respondError(w, http.StatusInternalServerError, "failed to enqueue frame")
		return
	}

	respondJSON(w, http.StatusOK, frameResponse{Accepted: accepted})
}

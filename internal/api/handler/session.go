package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/halden/converse/internal/api/middleware"
	"github.com/halden/converse/internal/api/response"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/service"
)

type SessionHandler struct {
	sessions *service.SessionService
}

func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// List returns the caller's sessions, most recently active first
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "user ID not found")
		return
	}

	if err := h.sessions.Bootstrap(r.Context(), userID); err != nil {
		response.InternalError(w, "failed to load sessions")
		return
	}

	response.OK(w, h.sessions.List())
}

// Create creates a new session and makes it active
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.Create(r.Context())
	if err != nil {
		response.InternalError(w, "failed to create session")
		return
	}

	response.Created(w, session)
}

// Active returns the active session and its timeline
func (h *SessionHandler) Active(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessions.Active()
	if !ok {
		response.NotFound(w, "no active session")
		return
	}

	tl := h.sessions.ActiveTimeline()
	var messages []domain.Message
	if tl != nil {
		messages = tl.Messages()
	}

	response.OK(w, map[string]any{
		"session":  session,
		"messages": messages,
	})
}

// Activate switches the active session pointer
func (h *SessionHandler) Activate(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.sessions.Switch(r.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to switch session")
		return
	}

	tl := h.sessions.ActiveTimeline()
	var messages []domain.Message
	if tl != nil {
		messages = tl.Messages()
	}
	response.OK(w, map[string]any{"messages": messages})
}

// Rename updates a session title
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var req struct {
		Title string `json:"title" validate:"required,max=120"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if !checkRequest(w, req) {
		return
	}

	if err := h.sessions.Rename(r.Context(), sessionID, req.Title); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to rename session")
		return
	}

	response.OK(w, map[string]string{"message": "session renamed"})
}

// Delete removes a session and its messages
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.sessions.Delete(r.Context(), sessionID); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, "failed to delete session")
		return
	}

	response.OK(w, map[string]string{"message": "session deleted"})
}

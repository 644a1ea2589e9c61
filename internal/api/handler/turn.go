package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/halden/converse/internal/api/response"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/service"
	"github.com/rs/zerolog/log"
)

type TurnHandler struct {
	turns *service.TurnService
}

func NewTurnHandler(turns *service.TurnService) *TurnHandler {
	return &TurnHandler{turns: turns}
}

type turnBody struct {
	Content  string `json:"content" validate:"required,max=32768"`
	Provider string `json:"provider" validate:"omitempty,max=64"`
}

// Send submits a new message and relays the reply as server-sent events
func (h *TurnHandler) Send(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if !checkRequest(w, body) {
		return
	}

	h.stream(w, r, func(notify func(domain.StreamEvent)) (*service.TurnResult, error) {
		return h.turns.Send(r.Context(), service.TurnRequest{
			SessionID: sessionID,
			Content:   body.Content,
			Provider:  body.Provider,
			Notify:    notify,
		})
	})
}

// Edit rewrites an earlier user message, discarding the fork after it
func (h *TurnHandler) Edit(w http.ResponseWriter, r *http.Request) {
	sessionID, messageID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var body turnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if !checkRequest(w, body) {
		return
	}

	h.stream(w, r, func(notify func(domain.StreamEvent)) (*service.TurnResult, error) {
		return h.turns.Edit(r.Context(), service.TurnRequest{
			SessionID: sessionID,
			MessageID: messageID,
			Content:   body.Content,
			Provider:  body.Provider,
			Notify:    notify,
		})
	})
}

// Regenerate replaces the reply to an earlier user message
func (h *TurnHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	sessionID, messageID, ok := h.parseIDs(w, r)
	if !ok {
		return
	}

	var body struct {
		Provider string `json:"provider"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
	}

	h.stream(w, r, func(notify func(domain.StreamEvent)) (*service.TurnResult, error) {
		return h.turns.Regenerate(r.Context(), service.TurnRequest{
			SessionID: sessionID,
			MessageID: messageID,
			Provider:  body.Provider,
			Notify:    notify,
		})
	})
}

func (h *TurnHandler) parseIDs(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return uuid.Nil, uuid.Nil, false
	}
	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		response.BadRequest(w, "invalid message ID")
		return uuid.Nil, uuid.Nil, false
	}
	return sessionID, messageID, true
}

// stream runs one turn and relays its events to the client as SSE records.
// Failures before the first event still have a clean response to fall back
// to; afterwards the error rides the stream as a final record.
func (h *TurnHandler) stream(w http.ResponseWriter, r *http.Request, run func(func(domain.StreamEvent)) (*service.TurnResult, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	emit := func(v any) {
		begin()
		payload, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Msg("failed to encode stream record")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	result, err := run(func(ev domain.StreamEvent) {
		emit(ev)
	})
	if err != nil && !started {
		switch {
		case errors.Is(err, domain.ErrTurnInProgress):
			response.Conflict(w, "a turn is already in progress for this session")
		case errors.Is(err, domain.ErrQuotaExceeded):
			response.TooManyRequests(w, "message quota exceeded")
		case errors.Is(err, domain.ErrMessageNotFound):
			response.NotFound(w, "message not found")
		case errors.Is(err, domain.ErrSessionNotFound):
			response.NotFound(w, "session not found")
		default:
			var te *domain.TransportError
			if errors.As(err, &te) {
				response.BadGateway(w, "chat backend unreachable")
				return
			}
			response.BadRequest(w, err.Error())
		}
		return
	}
	if err != nil {
		emit(map[string]any{"type": "error", "error": err.Error()})
	} else {
		emit(map[string]any{
			"type":              "final",
			"user_message":      result.UserMessage,
			"assistant_message": result.AssistantMessage,
			"side_messages":     result.SideMessages,
			"partial":           result.Partial,
		})
	}

	begin()
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/halden/converse/internal/api/middleware"
	"github.com/halden/converse/internal/api/response"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/service"
)

type VoteHandler struct {
	reactions *service.ReactionService
}

func NewVoteHandler(reactions *service.ReactionService) *VoteHandler {
	return &VoteHandler{reactions: reactions}
}

// Toggle flips the caller's vote on a message. Repeating a vote clears it.
func (h *VoteHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "user ID not found")
		return
	}

	messageID, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		response.BadRequest(w, "invalid message ID")
		return
	}

	var req struct {
		Value domain.VoteValue `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Value != domain.VoteUp && req.Value != domain.VoteDown {
		response.BadRequest(w, "value must be up or down")
		return
	}

	value, err := h.reactions.Toggle(r.Context(), userID, messageID, req.Value)
	if err != nil {
		// The optimistic flip was rolled back; report the surviving value.
		response.JSON(w, http.StatusBadGateway, map[string]any{"value": value})
		return
	}

	response.OK(w, map[string]any{"value": value})
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/halden/converse/internal/api/middleware"
	"github.com/halden/converse/internal/api/response"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// Search runs a debounced query across the caller's sessions and messages
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "user ID not found")
		return
	}

	scope := domain.SearchScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = domain.ScopeContent
	}
	if scope != domain.ScopeSessions && scope != domain.ScopeContent {
		response.BadRequest(w, "scope must be sessions or content")
		return
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			offset = v
		}
	}

	page, err := h.search.Search(r.Context(), service.SearchRequest{
		UserID: userID,
		Scope:  scope,
		Query:  r.URL.Query().Get("q"),
		Offset: offset,
	})
	if err != nil {
		if errors.Is(err, service.ErrSearchSuperseded) {
			// A newer query took over; this response must not be rendered.
			response.NoContent(w)
			return
		}
		response.InternalError(w, "search failed")
		return
	}

	response.OK(w, map[string]any{
		"results":  page.Results,
		"has_more": page.HasMore,
	})
}

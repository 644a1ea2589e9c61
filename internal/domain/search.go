package domain

import (
	"time"

	"github.com/google/uuid"
)

// SearchScope selects which sources a query runs against.
type SearchScope string

const (
	// ScopeSessions matches session titles only.
	ScopeSessions SearchScope = "sessions"
	// ScopeContent matches message bodies and session titles.
	ScopeContent SearchScope = "content"
)

// SearchResultKind identifies the source of a search hit.
type SearchResultKind string

const (
	ResultSession SearchResultKind = "session"
	ResultMessage SearchResultKind = "message"
)

// SearchResult is one hit of a search query. Results are de-duplicated by
// (Kind, ID) and ordered by recency descending.
type SearchResult struct {
	Kind      SearchResultKind `json:"kind"`
	ID        uuid.UUID        `json:"id"`
	SessionID uuid.UUID        `json:"session_id"`
	Title     string           `json:"title,omitempty"`
	Snippet   string           `json:"snippet,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Key returns the composite de-duplication key.
func (r SearchResult) Key() string {
	return string(r.Kind) + ":" + r.ID.String()
}

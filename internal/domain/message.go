package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry of a session timeline. The ID is generated client-side
// at creation time so the same identity survives optimistic-UI, local-cache
// and remote representations, enabling idempotent upsert.
//
// Within a session, messages are totally ordered by CreatedAt; ties are
// broken by insertion order. Assistant content is mutable only while its
// stream is open; user content is mutable only through edit.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	SessionID      uuid.UUID   `json:"session_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	SentimentScore *float64    `json:"sentiment_score,omitempty"`
	Votes          []Vote      `json:"votes,omitempty"`
}

// VoteValue is the state of one (user, message) reaction.
type VoteValue string

const (
	VoteUp   VoteValue = "up"
	VoteDown VoteValue = "down"
	// VoteNone is represented by absence of a row remotely, but is kept
	// representable locally to support optimistic rollback.
	VoteNone VoteValue = "none"
)

// Vote holds at most one reaction per (UserID, MessageID).
type Vote struct {
	UserID    uuid.UUID `json:"user_id"`
	MessageID uuid.UUID `json:"message_id"`
	Value     VoteValue `json:"value"`
}

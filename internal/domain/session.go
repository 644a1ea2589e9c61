package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a titled container for an ordered sequence of messages.
// IDs are generated client-side so a session is addressable before the
// remote store has confirmed it.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Unconfirmed is set when the remote create failed and the session only
	// exists locally. Never sent to the remote store.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// RemoteStore is the remote persistence collaborator. It may be concurrently
// modified by other clients of the same account; conflict resolution beyond
// "remote wins" on merge is not attempted.
type RemoteStore interface {
	ListSessions(ctx context.Context, userID uuid.UUID) ([]Session, error)
	CreateSession(ctx context.Context, session *Session) error
	RenameSession(ctx context.Context, id uuid.UUID, title string) error
	DeleteSession(ctx context.Context, id uuid.UUID) error

	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]Message, error)
	UpsertMessage(ctx context.Context, message *Message) error
	// DeleteMessages removes every persisted message of the session whose
	// CreatedAt is >= since. Used for fork-and-truncate.
	DeleteMessages(ctx context.Context, sessionID uuid.UUID, since time.Time) error

	UpsertVote(ctx context.Context, vote Vote) error
	DeleteVote(ctx context.Context, userID, messageID uuid.UUID) error

	SearchSessions(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]Session, error)
	SearchMessages(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]Message, error)
}

// MessageCache is the local persisted cache, one entry per session. It is a
// cache, not a source of truth: merge logic lives elsewhere.
type MessageCache interface {
	Get(ctx context.Context, sessionID uuid.UUID) ([]Message, bool, error)
	Set(ctx context.Context, sessionID uuid.UUID, messages []Message) error
	Remove(ctx context.Context, sessionID uuid.UUID) error
	Close() error
}

// Package backend abstracts the streaming language-model collaborators the
// engine consumes as opaque event producers.
package backend

import (
	"context"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
)

// ChatRequest carries one turn's context to a provider.
type ChatRequest struct {
	Prompt        string           `json:"prompt"`
	PriorMessages []domain.Message `json:"prior_messages"`
	SessionID     uuid.UUID        `json:"session_id"`
	IsRegenerate  bool             `json:"is_regenerate"`
}

// EventStream is a lazy, finite, non-restartable sequence of stream events.
// Next returns io.EOF once the terminal event has been delivered.
type EventStream interface {
	Next() (domain.StreamEvent, error)
	Close() error
}

// Provider defines the interface for streaming chat backends.
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// StreamChat opens a streaming response for one turn. Quota rejections
	// surface as domain.ErrQuotaExceeded, other failures as TransportError.
	StreamChat(ctx context.Context, req ChatRequest) (EventStream, error)
}

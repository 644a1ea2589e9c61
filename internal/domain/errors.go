package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when the streaming backend rejects a turn
	// for rate or quota reasons. Surfaced distinctly, never retried.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrTurnInProgress is returned when a send/edit/regenerate is requested
	// while another turn is active for the same session.
	ErrTurnInProgress = errors.New("turn already in progress")

	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotAuthenticated surfaces an upstream identity failure. The engine
	// never tries to recover from it.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// TransportError wraps a network or HTTP failure talking to a collaborator
// before or during streaming.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError wraps a remote store write failure during finalize.
// Local state is still updated when one occurs; no background
// reconciliation is attempted.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

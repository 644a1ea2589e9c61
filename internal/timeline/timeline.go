// Package timeline holds the in-process ordered message sequence for one
// session and the merge algorithm that reconciles cached and remote copies.
package timeline

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
)

// Merge reconciles a locally cached timeline with a remotely fetched one.
// Local entries are inserted first, then remote entries overwrite any entry
// with the same id (remote authoritative on conflict). Entries present only
// locally are kept, so an empty remote set yields the local set unchanged.
// The result is sorted ascending by CreatedAt with a stable tie-break on
// first insertion order, which makes Merge idempotent:
// Merge(Merge(a,b), b) == Merge(a,b).
func Merge(local, remote []domain.Message) []domain.Message {
	index := make(map[uuid.UUID]int, len(local)+len(remote))
	merged := make([]domain.Message, 0, len(local)+len(remote))

	for _, m := range local {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	for _, m := range remote {
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	return merged
}

// Timeline is the authoritative in-process message sequence for one session.
// Mutations go through the methods below only; all are safe for concurrent
// use so an in-flight turn can keep writing after the active session moved.
type Timeline struct {
	sessionID uuid.UUID

	mu       sync.Mutex
	messages []domain.Message
}

// New builds a timeline for the given session seeded with msgs.
func New(sessionID uuid.UUID, msgs []domain.Message) *Timeline {
	t := &Timeline{sessionID: sessionID}
	t.messages = append(t.messages, msgs...)
	return t
}

// SessionID returns the owning session id.
func (t *Timeline) SessionID() uuid.UUID { return t.sessionID }

// Messages returns a copy of the current sequence.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Get returns the message with the given id.
func (t *Timeline) Get(id uuid.UUID) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(id); i >= 0 {
		return t.messages[i], true
	}
	return domain.Message{}, false
}

// Append adds a message at the end of the sequence.
func (t *Timeline) Append(msg domain.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

// Replace swaps the message with msg.ID for msg, keeping its position.
func (t *Timeline) Replace(msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(msg.ID); i >= 0 {
		t.messages[i] = msg
		return true
	}
	return false
}

// AppendDelta appends text to the content of the message with the given id.
// This is the only permitted mutation of an in-flight assistant message.
func (t *Timeline) AppendDelta(id uuid.UUID, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := t.indexOf(id); i >= 0 {
		t.messages[i].Content += text
		return true
	}
	return false
}

// InsertBefore inserts msg immediately before the message with beforeID,
// preserving the order of everything else.
func (t *Timeline) InsertBefore(beforeID uuid.UUID, msg domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(beforeID)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages, domain.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = msg
	return true
}

// TruncateFrom removes the message with the given id and everything after
// it, returning the removed suffix in order. Used by edit.
func (t *Timeline) TruncateFrom(id uuid.UUID) ([]domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return nil, false
	}
	removed := make([]domain.Message, len(t.messages)-i)
	copy(removed, t.messages[i:])
	t.messages = t.messages[:i]
	return removed, true
}

// TruncateAfter removes everything after the message with the given id,
// keeping the message itself. Used by regenerate.
func (t *Timeline) TruncateAfter(id uuid.UUID) ([]domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexOf(id)
	if i < 0 {
		return nil, false
	}
	removed := make([]domain.Message, len(t.messages)-i-1)
	copy(removed, t.messages[i+1:])
	t.messages = t.messages[:i+1]
	return removed, true
}

func (t *Timeline) indexOf(id uuid.UUID) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

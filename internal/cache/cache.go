// Package cache implements the local persisted cache: one opaque entry per
// session holding the last known message timeline. Backends are pluggable
// key-value stores; entries can optionally be sealed at rest.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/security"
)

const timelineKeyPrefix = "timeline:"

// KV is the storage contract a cache backend implements. Values are opaque
// bytes; all encoding lives in Store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store implements domain.MessageCache on top of a KV backend. When an
// encryptor is supplied, entries are AES-GCM sealed at rest.
type Store struct {
	kv  KV
	enc *security.Encryptor
}

// NewStore wraps a KV backend. enc may be nil.
func NewStore(kv KV, enc *security.Encryptor) *Store {
	return &Store{kv: kv, enc: enc}
}

// TimelineKey returns the storage key holding a session's cached timeline.
func TimelineKey(sessionID uuid.UUID) string {
	return timelineKeyPrefix + sessionID.String()
}

// Get retrieves the cached timeline for a session. A missing entry is not an
// error; an undecodable one is treated as a miss so a corrupt cache never
// blocks a session switch.
func (s *Store) Get(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, bool, error) {
	data, ok, err := s.kv.Get(ctx, TimelineKey(sessionID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	if s.enc != nil {
		data, err = s.enc.Decrypt(data)
		if err != nil {
			return nil, false, nil
		}
	}

	var messages []domain.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, false, nil
	}
	return messages, true, nil
}

// Set replaces the cached timeline for a session.
func (s *Store) Set(ctx context.Context, sessionID uuid.UUID, messages []domain.Message) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}

	if s.enc != nil {
		data, err = s.enc.Encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to seal timeline: %w", err)
		}
	}

	return s.kv.Set(ctx, TimelineKey(sessionID), data)
}

// Remove drops the cached timeline for a session.
func (s *Store) Remove(ctx context.Context, sessionID uuid.UUID) error {
	return s.kv.Delete(ctx, TimelineKey(sessionID))
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.kv.Close()
}

package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
	"github.com/rs/zerolog/log"
)

// ReactionService applies vote toggles optimistically: the local state flips
// first, the remote store confirms after, and a remote failure rolls the
// local state back.
type ReactionService struct {
	remote domain.RemoteStore

	mu    sync.Mutex
	votes map[voteKey]domain.VoteValue
}

type voteKey struct {
	userID    uuid.UUID
	messageID uuid.UUID
}

// NewReactionService creates a new reaction service
func NewReactionService(remote domain.RemoteStore) *ReactionService {
	return &ReactionService{
		remote: remote,
		votes:  make(map[voteKey]domain.VoteValue),
	}
}

// Vote returns the current vote a user holds on a message.
func (s *ReactionService) Vote(userID, messageID uuid.UUID) domain.VoteValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.votes[voteKey{userID, messageID}]; ok {
		return v
	}
	return domain.VoteNone
}

// Load seeds local vote state from messages fetched remotely.
func (s *ReactionService) Load(msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		for _, v := range msg.Votes {
			s.votes[voteKey{v.UserID, v.MessageID}] = v.Value
		}
	}
}

// Toggle flips a user's vote on a message. Voting the current value clears
// it; voting the opposite value replaces it. Returns the resulting value.
func (s *ReactionService) Toggle(ctx context.Context, userID, messageID uuid.UUID, value domain.VoteValue) (domain.VoteValue, error) {
	key := voteKey{userID, messageID}

	s.mu.Lock()
	previous, ok := s.votes[key]
	if !ok {
		previous = domain.VoteNone
	}
	next := value
	if previous == value {
		next = domain.VoteNone
	}
	if next == domain.VoteNone {
		delete(s.votes, key)
	} else {
		s.votes[key] = next
	}
	s.mu.Unlock()

	var err error
	if next == domain.VoteNone {
		err = s.remote.DeleteVote(ctx, userID, messageID)
	} else {
		err = s.remote.UpsertVote(ctx, domain.Vote{UserID: userID, MessageID: messageID, Value: next})
	}
	if err != nil {
		log.Warn().Err(err).Str("message_id", messageID.String()).Msg("vote sync failed, rolling back")
		s.mu.Lock()
		if previous == domain.VoteNone {
			delete(s.votes, key)
		} else {
			s.votes[key] = previous
		}
		s.mu.Unlock()
		return previous, err
	}
	return next, nil
}

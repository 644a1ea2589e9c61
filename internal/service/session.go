package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/timeline"
	"github.com/rs/zerolog/log"
)

const defaultSessionTitle = "New Chat"

// maxAutoTitleRunes bounds titles derived from the first user message.
const maxAutoTitleRunes = 48

// SessionService tracks the known set of sessions and the active session
// pointer, and rebuilds the message timeline when the pointer moves.
// Exactly one session is active whenever any session exists.
type SessionService struct {
	remote domain.RemoteStore
	cache  domain.MessageCache

	mu           sync.Mutex
	sessions     map[uuid.UUID]*domain.Session
	activeID     uuid.UUID
	tl           *timeline.Timeline
	bootstrapped bool

	now   func() time.Time
	newID func() uuid.UUID
}

// NewSessionService creates a new session service
func NewSessionService(remote domain.RemoteStore, cache domain.MessageCache) *SessionService {
	return &SessionService{
		remote:   remote,
		cache:    cache,
		sessions: make(map[uuid.UUID]*domain.Session),
		now:      time.Now,
		newID:    uuid.New,
	}
}

// Bootstrap loads the account's sessions from the remote store and activates
// the most recent one, creating a fresh session when none exist. It runs
// once; later calls are no-ops.
func (s *SessionService) Bootstrap(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	if s.bootstrapped {
		s.mu.Unlock()
		return nil
	}
	s.bootstrapped = true
	s.mu.Unlock()

	sessions, err := s.remote.ListSessions(ctx, userID)
	if err != nil {
		// Offline-first: start with whatever is local and let merges catch up.
		log.Warn().Err(err).Msg("failed to list remote sessions, starting offline")
	}

	s.mu.Lock()
	for i := range sessions {
		sess := sessions[i]
		s.sessions[sess.ID] = &sess
	}
	s.mu.Unlock()

	if len(sessions) == 0 {
		_, err := s.Create(ctx)
		return err
	}

	recent := sessions[0]
	for _, sess := range sessions[1:] {
		if sess.UpdatedAt.After(recent.UpdatedAt) {
			recent = sess
		}
	}
	return s.Switch(ctx, recent.ID)
}

// Create makes a new session, optimistically activates it, then confirms it
// with the remote store. On remote failure the session stays usable locally
// and is marked unconfirmed.
func (s *SessionService) Create(ctx context.Context) (*domain.Session, error) {
	now := s.now()
	sess := &domain.Session{
		ID:        s.newID(),
		Title:     defaultSessionTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.activeID = sess.ID
	s.tl = timeline.New(sess.ID, nil)
	s.mu.Unlock()

	if err := s.remote.CreateSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("remote session create failed, keeping local only")
		s.mu.Lock()
		sess.Unconfirmed = true
		s.mu.Unlock()
	}

	out := *sess
	return &out, nil
}

// Switch activates the given session, rebuilding the timeline from the local
// cache merged with a fresh remote fetch. Switching to the already active
// session is a no-op.
func (s *SessionService) Switch(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if s.activeID == id && s.tl != nil {
		s.mu.Unlock()
		return nil
	}
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	s.mu.Unlock()

	tl := s.loadTimeline(ctx, id)

	s.mu.Lock()
	s.activeID = id
	s.tl = tl
	s.mu.Unlock()
	return nil
}

// loadTimeline merges the cached timeline with a fresh remote fetch and
// writes the result back to the cache.
func (s *SessionService) loadTimeline(ctx context.Context, id uuid.UUID) *timeline.Timeline {
	cached, _, err := s.cache.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to read cached timeline")
	}

	remote, err := s.remote.ListMessages(ctx, id)
	if err != nil {
		// Offline fallback: the cached copy alone is still a valid timeline.
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to fetch remote messages, using cache only")
	}

	merged := timeline.Merge(cached, remote)
	if err := s.cache.Set(ctx, id, merged); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to write merged timeline to cache")
	}
	return timeline.New(id, merged)
}

// Rename sets a session title locally, then confirms with the remote store,
// reverting on failure.
func (s *SessionService) Rename(ctx context.Context, id uuid.UUID, title string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	previous := sess.Title
	sess.Title = title
	sess.UpdatedAt = s.now()
	s.mu.Unlock()

	if err := s.remote.RenameSession(ctx, id, title); err != nil {
		s.mu.Lock()
		sess.Title = previous
		s.mu.Unlock()
		return err
	}
	return nil
}

// Delete removes a session and all its messages from the remote store and
// local cache. If the deleted session was active, another session is
// activated, or a new empty one is created so the active pointer never
// dangles.
func (s *SessionService) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	unconfirmed := sess.Unconfirmed
	s.mu.Unlock()

	// Unconfirmed sessions never made it remote; skip the remote delete.
	if !unconfirmed {
		if err := s.remote.DeleteSession(ctx, id); err != nil {
			return err
		}
	}
	if err := s.cache.Remove(ctx, id); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to remove cached timeline")
	}

	s.mu.Lock()
	delete(s.sessions, id)
	wasActive := s.activeID == id
	var next *domain.Session
	if wasActive {
		s.activeID = uuid.Nil
		s.tl = nil
		for _, candidate := range s.sessions {
			if next == nil || candidate.UpdatedAt.After(next.UpdatedAt) {
				next = candidate
			}
		}
	}
	s.mu.Unlock()

	if !wasActive {
		return nil
	}
	if next != nil {
		return s.Switch(ctx, next.ID)
	}
	_, err := s.Create(ctx)
	return err
}

// List returns the known sessions, most recently updated first.
func (s *SessionService) List() []domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Get returns one session by id.
func (s *SessionService) Get(id uuid.UUID) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return *sess, nil
	}
	return domain.Session{}, domain.ErrSessionNotFound
}

// Active returns the active session, if any.
func (s *SessionService) Active() (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[s.activeID]; ok {
		return *sess, true
	}
	return domain.Session{}, false
}

// ActiveTimeline returns the timeline of the active session.
func (s *SessionService) ActiveTimeline() *timeline.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl
}

// timelineFor returns the live timeline when id is active, or a detached one
// built from cache and remote otherwise. A turn keeps writing to its own
// timeline even after the active pointer moves away; only the active one is
// visible to callers.
func (s *SessionService) timelineFor(ctx context.Context, id uuid.UUID) (*timeline.Timeline, error) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	if s.activeID == id && s.tl != nil {
		tl := s.tl
		s.mu.Unlock()
		return tl, nil
	}
	s.mu.Unlock()
	return s.loadTimeline(ctx, id), nil
}

// touch bumps a session's UpdatedAt so recency ordering follows activity.
func (s *SessionService) touch(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.UpdatedAt = s.now()
	}
}

// autoTitle derives a short title from the leading text of the first user
// message and persists it. Best-effort: failures are logged only.
func (s *SessionService) autoTitle(ctx context.Context, id uuid.UUID, content string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Title != defaultSessionTitle {
		s.mu.Unlock()
		return
	}
	title := deriveTitle(content)
	sess.Title = title
	s.mu.Unlock()

	if err := s.remote.RenameSession(ctx, id, title); err != nil {
		log.Warn().Err(err).Str("session_id", id.String()).Msg("failed to persist derived session title")
	}
}

func deriveTitle(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	runes := []rune(title)
	if len(runes) <= maxAutoTitleRunes {
		return title
	}
	trimmed := string(runes[:maxAutoTitleRunes])
	if i := strings.LastIndex(trimmed, " "); i > 0 {
		trimmed = trimmed[:i]
	}
	return trimmed + "..."
}

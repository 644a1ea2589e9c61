package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/stream"
	"github.com/halden/converse/internal/timeline"
	"github.com/rs/zerolog/log"
)

// TurnState describes where a session's current turn is in its lifecycle.
type TurnState string

const (
	StateIdle       TurnState = "idle"
	StateSending    TurnState = "sending"
	StateStreaming  TurnState = "streaming"
	StateFinalizing TurnState = "finalizing"
)

type turnKind int

const (
	turnSend turnKind = iota
	turnEdit
	turnRegenerate
)

// TurnRequest carries one user turn: a new message, an edit of an earlier
// user message, or a regeneration of the reply to one.
type TurnRequest struct {
	SessionID uuid.UUID
	MessageID uuid.UUID
	Content   string
	Provider  string

	// Notify, when set, receives every stream event as it is folded into
	// the timeline. Used by the SSE handler to relay progress.
	Notify func(domain.StreamEvent)

	kind turnKind
}

// TurnResult reports the finalized turn.
type TurnResult struct {
	UserMessage      domain.Message
	AssistantMessage domain.Message
	SideMessages     []domain.Message
	// Partial is set when the stream ended before the terminal sentinel
	// and the accumulated prefix was kept.
	Partial bool
}

// TurnService runs the send/edit/regenerate state machine. At most one turn
// per session is in flight; concurrent attempts fail with ErrTurnInProgress.
type TurnService struct {
	sessions *SessionService
	backends *backend.Router

	mu     sync.Mutex
	active map[uuid.UUID]TurnState

	now   func() time.Time
	newID func() uuid.UUID
}

// NewTurnService creates a new turn service
func NewTurnService(sessions *SessionService, backends *backend.Router) *TurnService {
	return &TurnService{
		sessions: sessions,
		backends: backends,
		active:   make(map[uuid.UUID]TurnState),
		now:      time.Now,
		newID:    uuid.New,
	}
}

// State reports the turn state for a session.
func (s *TurnService) State(sessionID uuid.UUID) TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.active[sessionID]; ok {
		return state
	}
	return StateIdle
}

// Send submits a new user message and streams the reply into the timeline.
func (s *TurnService) Send(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("message content is required")
	}
	req.kind = turnSend
	return s.run(ctx, req)
}

// Edit replaces the content of an earlier user message, discards that
// message and everything after it, and streams a fresh reply. The edited
// message keeps its id but gets a fresh timestamp.
func (s *TurnService) Edit(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("message content is required")
	}
	req.kind = turnEdit
	return s.run(ctx, req)
}

// Regenerate discards everything after the given user message and streams a
// fresh reply to it. The user message itself is untouched.
func (s *TurnService) Regenerate(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	req.kind = turnRegenerate
	return s.run(ctx, req)
}

func (s *TurnService) acquire(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[sessionID]; ok {
		return false
	}
	s.active[sessionID] = StateSending
	return true
}

func (s *TurnService) setState(sessionID uuid.UUID, state TurnState) {
	s.mu.Lock()
	s.active[sessionID] = state
	s.mu.Unlock()
}

func (s *TurnService) release(sessionID uuid.UUID) {
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()
}

func (s *TurnService) run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if !s.acquire(req.SessionID) {
		return nil, domain.ErrTurnInProgress
	}
	defer s.release(req.SessionID)

	tl, err := s.sessions.timelineFor(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	firstTurn := tl.Len() == 0

	user, truncSince, truncated, err := s.prepare(tl, req)
	if err != nil {
		return nil, err
	}
	history := historyBefore(tl, user.ID)

	placeholder := domain.Message{
		ID:        s.newID(),
		SessionID: req.SessionID,
		Role:      domain.RoleAssistant,
		CreatedAt: s.after(user.CreatedAt),
	}
	tl.Append(placeholder)

	provider, err := s.backends.GetProvider(req.Provider)
	if err != nil {
		s.failPlaceholder(tl, placeholder.ID, err)
		return nil, err
	}

	es, err := provider.StreamChat(ctx, backend.ChatRequest{
		Prompt:        user.Content,
		PriorMessages: history,
		SessionID:     req.SessionID,
		IsRegenerate:  req.kind == turnRegenerate,
	})
	if err != nil {
		s.failPlaceholder(tl, placeholder.ID, err)
		return nil, err
	}
	defer es.Close()

	s.setState(req.SessionID, StateStreaming)

	sides, partial := s.consume(tl, es, &user, placeholder, req.Notify)

	s.setState(req.SessionID, StateFinalizing)
	result := s.finalize(ctx, tl, req, user, placeholder.ID, sides, truncSince, truncated, firstTurn)
	result.Partial = partial
	return result, nil
}

// prepare mutates the timeline for the requested turn kind and returns the
// user message the reply answers, plus the truncation point when messages
// were removed.
func (s *TurnService) prepare(tl *timeline.Timeline, req TurnRequest) (domain.Message, time.Time, bool, error) {
	switch req.kind {
	case turnSend:
		last := time.Time{}
		if msgs := tl.Messages(); len(msgs) > 0 {
			last = msgs[len(msgs)-1].CreatedAt
		}
		user := domain.Message{
			ID:        s.newID(),
			SessionID: req.SessionID,
			Role:      domain.RoleUser,
			Content:   req.Content,
			CreatedAt: s.after(last),
		}
		tl.Append(user)
		return user, time.Time{}, false, nil

	case turnEdit:
		orig, ok := tl.Get(req.MessageID)
		if !ok {
			return domain.Message{}, time.Time{}, false, domain.ErrMessageNotFound
		}
		if orig.Role != domain.RoleUser {
			return domain.Message{}, time.Time{}, false, fmt.Errorf("message %s is not a user message", req.MessageID)
		}
		tl.TruncateFrom(orig.ID)
		last := time.Time{}
		if msgs := tl.Messages(); len(msgs) > 0 {
			last = msgs[len(msgs)-1].CreatedAt
		}
		user := domain.Message{
			ID:        orig.ID,
			SessionID: req.SessionID,
			Role:      domain.RoleUser,
			Content:   req.Content,
			CreatedAt: s.after(last),
		}
		tl.Append(user)
		return user, orig.CreatedAt, true, nil

	case turnRegenerate:
		orig, ok := tl.Get(req.MessageID)
		if !ok {
			return domain.Message{}, time.Time{}, false, domain.ErrMessageNotFound
		}
		if orig.Role != domain.RoleUser {
			return domain.Message{}, time.Time{}, false, fmt.Errorf("message %s is not a user message", req.MessageID)
		}
		removed, _ := tl.TruncateAfter(orig.ID)
		if len(removed) > 0 {
			return orig, removed[0].CreatedAt, true, nil
		}
		return orig, time.Time{}, false, nil
	}
	return domain.Message{}, time.Time{}, false, fmt.Errorf("unknown turn kind %d", req.kind)
}

// consume folds stream events into the timeline until the stream ends.
// Returns collected side messages and whether the stream ended early.
func (s *TurnService) consume(tl *timeline.Timeline, es backend.EventStream, user *domain.Message, placeholder domain.Message, notify func(domain.StreamEvent)) ([]domain.Message, bool) {
	var sides []domain.Message
	partial := false
	for {
		ev, err := es.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Keep whatever arrived; the turn finalizes with the prefix.
			log.Warn().Err(err).Str("session_id", tl.SessionID().String()).Msg("reply stream ended early")
			partial = true
			break
		}
		switch ev.Type {
		case domain.EventContentDelta:
			tl.AppendDelta(placeholder.ID, ev.Text)
		case domain.EventSideMessage:
			if ev.Message != nil {
				side := *ev.Message
				if side.ID == uuid.Nil {
					side.ID = s.newID()
				}
				side.SessionID = tl.SessionID()
				// Timestamped before the turn's user message so a later
				// edit or regenerate of that message cannot truncate it.
				side.CreatedAt = user.CreatedAt.Add(-time.Second).Add(time.Duration(len(sides)) * time.Millisecond)
				tl.InsertBefore(placeholder.ID, side)
				sides = append(sides, side)
			}
		case domain.EventMetricUpdate:
			s.applyMetric(tl, user, placeholder.ID, ev)
		case domain.EventTerminal:
			// Next returns io.EOF on the following call.
		}
		if notify != nil {
			notify(ev)
		}
	}
	return sides, partial
}

func (s *TurnService) applyMetric(tl *timeline.Timeline, user *domain.Message, placeholderID uuid.UUID, ev domain.StreamEvent) {
	switch ev.Field {
	case stream.MetricSentiment:
		score := ev.Value
		user.SentimentScore = &score
		tl.Replace(*user)
	case stream.MetricTokens:
		log.Debug().Float64(stream.MetricTokens, ev.Value).Str("session_id", tl.SessionID().String()).Msg("turn token usage")
	default:
		log.Debug().Str("field", ev.Field).Float64("value", ev.Value).Msg("unrecognized metric update")
	}
}

// finalize persists the turn to the remote store and the local cache.
// Persistence failures are logged, never surfaced: the local timeline is
// already correct and a later merge reconciles.
func (s *TurnService) finalize(ctx context.Context, tl *timeline.Timeline, req TurnRequest, user domain.Message, placeholderID uuid.UUID, sides []domain.Message, truncSince time.Time, truncated, firstTurn bool) *TurnResult {
	assistant, _ := tl.Get(placeholderID)

	if truncated {
		if err := s.sessions.remote.DeleteMessages(ctx, req.SessionID, truncSince); err != nil {
			perr := &domain.PersistenceError{Op: "delete truncated messages", Err: err}
			log.Error().Err(perr).Str("session_id", req.SessionID.String()).Msg("remote truncation failed")
		}
	}
	persist := make([]domain.Message, 0, len(sides)+2)
	persist = append(persist, sides...)
	if req.kind != turnRegenerate {
		persist = append(persist, user)
	} else if user.SentimentScore != nil {
		persist = append(persist, user)
	}
	persist = append(persist, assistant)
	for _, msg := range persist {
		if err := s.sessions.remote.UpsertMessage(ctx, &msg); err != nil {
			perr := &domain.PersistenceError{Op: "upsert message", Err: err}
			log.Error().Err(perr).Str("message_id", msg.ID.String()).Msg("failed to persist message")
		}
	}

	if err := s.sessions.cache.Set(ctx, req.SessionID, tl.Messages()); err != nil {
		log.Warn().Err(err).Str("session_id", req.SessionID.String()).Msg("failed to cache timeline")
	}

	if req.kind == turnSend && firstTurn {
		s.sessions.autoTitle(ctx, req.SessionID, user.Content)
	}
	s.sessions.touch(req.SessionID)

	return &TurnResult{
		UserMessage:      user,
		AssistantMessage: assistant,
		SideMessages:     sides,
	}
}

// failPlaceholder turns the reply placeholder into an inline error so the
// timeline shows what happened; the user's message stays put.
func (s *TurnService) failPlaceholder(tl *timeline.Timeline, placeholderID uuid.UUID, err error) {
	msg, ok := tl.Get(placeholderID)
	if !ok {
		return
	}
	msg.Content = inlineErrorText(err)
	tl.Replace(msg)
}

func inlineErrorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "Message limit reached. Please try again later."
	default:
		return "Something went wrong sending this message. Please try again."
	}
}

// after returns a timestamp strictly greater than t, advancing by a
// millisecond when the clock has not moved.
func (s *TurnService) after(t time.Time) time.Time {
	now := s.now()
	if now.After(t) {
		return now
	}
	return t.Add(time.Millisecond)
}

// historyBefore returns the messages strictly preceding id in timeline order.
func historyBefore(tl *timeline.Timeline, id uuid.UUID) []domain.Message {
	msgs := tl.Messages()
	for i, msg := range msgs {
		if msg.ID == id {
			return msgs[:i]
		}
	}
	return msgs
}

package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/stream"
	"github.com/halden/converse/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type turnFixture struct {
	svc      *TurnService
	sessions *SessionService
	remote   *MockRemoteStore
	cache    *MockMessageCache
	provider *MockProvider
	sid      uuid.UUID
}

func newTurnFixture(seed []domain.Message) *turnFixture {
	remote := new(MockRemoteStore)
	cache := new(MockMessageCache)
	sid := uuid.New()

	sessions := newSessionFixture(remote, cache)
	sessions.sessions[sid] = &domain.Session{ID: sid, Title: defaultSessionTitle}
	sessions.activeID = sid
	sessions.tl = timeline.New(sid, seed)

	provider := new(MockProvider)
	provider.On("Name").Return("mock").Maybe()
	provider.On("IsConfigured").Return(true).Maybe()

	router := backend.NewRouter("mock")
	router.RegisterProvider(provider)

	return &turnFixture{
		svc:      NewTurnService(sessions, router),
		sessions: sessions,
		remote:   remote,
		cache:    cache,
		provider: provider,
		sid:      sid,
	}
}

func deltas(parts ...string) []domain.StreamEvent {
	evs := make([]domain.StreamEvent, 0, len(parts)+1)
	for _, p := range parts {
		evs = append(evs, domain.StreamEvent{Type: domain.EventContentDelta, Text: p})
	}
	return append(evs, domain.StreamEvent{Type: domain.EventTerminal})
}

func TestTurnService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("assembles the reply from deltas", func(t *testing.T) {
		f := newTurnFixture(nil)
		stream := &scriptedStream{events: deltas("Hel", "lo", " world")}

		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.remote.On("RenameSession", mock.Anything, f.sid, mock.AnythingOfType("string")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		res, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "Hello world", res.AssistantMessage.Content)
		assert.False(t, res.Partial)
		assert.True(t, stream.closed)

		msgs := f.sessions.tl.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, domain.RoleUser, msgs[0].Role)
		assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
		assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))

		// First turn derives a title from the user's message.
		sess, _ := f.sessions.Get(f.sid)
		assert.Equal(t, "hi", sess.Title)

		f.remote.AssertNumberOfCalls(t, "UpsertMessage", 2)
	})

	t.Run("prior timeline is sent as context", func(t *testing.T) {
		base := time.Now().Add(-time.Minute)
		seed := []domain.Message{
			{ID: uuid.New(), Role: domain.RoleUser, Content: "earlier", CreatedAt: base},
			{ID: uuid.New(), Role: domain.RoleAssistant, Content: "reply", CreatedAt: base.Add(time.Second)},
		}
		f := newTurnFixture(seed)
		sid := f.sid

		var captured backend.ChatRequest
		stream := &scriptedStream{events: deltas("ok")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).
			Run(func(args mock.Arguments) { captured = args.Get(1).(backend.ChatRequest) }).
			Return(stream, nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.cache.On("Set", mock.Anything, sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		_, err := f.svc.Send(ctx, TurnRequest{SessionID: sid, Content: "next"})
		require.NoError(t, err)

		assert.Equal(t, "next", captured.Prompt)
		require.Len(t, captured.PriorMessages, 2)
		assert.Equal(t, "earlier", captured.PriorMessages[0].Content)
		assert.False(t, captured.IsRegenerate)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		f := newTurnFixture(nil)
		_, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid})
		assert.Error(t, err)
	})

	t.Run("one turn per session", func(t *testing.T) {
		f := newTurnFixture(nil)
		f.svc.active[f.sid] = StateStreaming

		_, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid, Content: "hi"})
		assert.ErrorIs(t, err, domain.ErrTurnInProgress)
	})

	t.Run("quota failure becomes an inline error and keeps the user message", func(t *testing.T) {
		f := newTurnFixture(nil)
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).
			Return(nil, domain.ErrQuotaExceeded)

		_, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid, Content: "hi"})
		require.ErrorIs(t, err, domain.ErrQuotaExceeded)

		msgs := f.sessions.tl.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", msgs[0].Content)
		assert.Contains(t, msgs[1].Content, "limit")
		f.remote.AssertNotCalled(t, "UpsertMessage", mock.Anything, mock.Anything)
		assert.Equal(t, StateIdle, f.svc.State(f.sid))
	})

	t.Run("mid-stream failure finalizes the partial reply", func(t *testing.T) {
		f := newTurnFixture(nil)
		stream := &scriptedStream{
			events: []domain.StreamEvent{{Type: domain.EventContentDelta, Text: "partial answ"}},
			final:  &domain.TransportError{Op: "read stream", Err: io.ErrUnexpectedEOF},
		}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.remote.On("RenameSession", mock.Anything, f.sid, mock.AnythingOfType("string")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		res, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid, Content: "hi"})
		require.NoError(t, err)
		assert.True(t, res.Partial)
		assert.Equal(t, "partial answ", res.AssistantMessage.Content)
		f.remote.AssertNumberOfCalls(t, "UpsertMessage", 2)
	})

	t.Run("side messages land before the reply with earlier timestamps", func(t *testing.T) {
		f := newTurnFixture(nil)
		side := domain.Message{Role: domain.RoleAssistant, Content: "by the way"}
		stream := &scriptedStream{events: []domain.StreamEvent{
			{Type: domain.EventContentDelta, Text: "answer"},
			{Type: domain.EventSideMessage, Message: &side},
			{Type: domain.EventMetricUpdate, Field: stream.MetricSentiment, Value: 0.42},
			{Type: domain.EventTerminal},
		}}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.remote.On("RenameSession", mock.Anything, f.sid, mock.AnythingOfType("string")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		res, err := f.svc.Send(ctx, TurnRequest{SessionID: f.sid, Content: "hi"})
		require.NoError(t, err)
		require.Len(t, res.SideMessages, 1)

		msgs := f.sessions.tl.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "by the way", msgs[1].Content)
		assert.True(t, msgs[1].CreatedAt.Before(res.UserMessage.CreatedAt))

		require.NotNil(t, res.UserMessage.SentimentScore)
		assert.InDelta(t, 0.42, *res.UserMessage.SentimentScore, 1e-9)

		// user + side + assistant
		f.remote.AssertNumberOfCalls(t, "UpsertMessage", 3)
	})
}

func TestTurnService_Edit(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	seed := func() []domain.Message {
		return []domain.Message{
			{ID: uuid.New(), Role: domain.RoleUser, Content: "first", CreatedAt: base},
			{ID: uuid.New(), Role: domain.RoleAssistant, Content: "first reply", CreatedAt: base.Add(time.Second)},
			{ID: uuid.New(), Role: domain.RoleUser, Content: "second", CreatedAt: base.Add(2 * time.Second)},
			{ID: uuid.New(), Role: domain.RoleAssistant, Content: "second reply", CreatedAt: base.Add(3 * time.Second)},
		}
	}

	t.Run("truncates the fork and keeps the message id", func(t *testing.T) {
		msgs := seed()
		f := newTurnFixture(msgs)
		target := msgs[2]

		stream := &scriptedStream{events: deltas("edited reply")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("DeleteMessages", mock.Anything, f.sid, target.CreatedAt).Return(nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		res, err := f.svc.Edit(ctx, TurnRequest{SessionID: f.sid, MessageID: target.ID, Content: "second, edited"})
		require.NoError(t, err)

		assert.Equal(t, target.ID, res.UserMessage.ID)
		assert.Equal(t, "second, edited", res.UserMessage.Content)
		assert.True(t, res.UserMessage.CreatedAt.After(msgs[1].CreatedAt))
		assert.True(t, res.UserMessage.CreatedAt.After(target.CreatedAt))

		got := f.sessions.tl.Messages()
		require.Len(t, got, 4)
		assert.Equal(t, "first", got[0].Content)
		assert.Equal(t, "first reply", got[1].Content)
		assert.Equal(t, "second, edited", got[2].Content)
		assert.Equal(t, "edited reply", got[3].Content)

		seen := make(map[uuid.UUID]bool)
		for i, msg := range got {
			assert.False(t, seen[msg.ID], "duplicate message id at %d", i)
			seen[msg.ID] = true
			if i > 0 {
				assert.False(t, msg.CreatedAt.Before(got[i-1].CreatedAt), "timeline out of order at %d", i)
			}
		}

		f.remote.AssertCalled(t, "DeleteMessages", mock.Anything, f.sid, target.CreatedAt)
	})

	t.Run("remote truncation runs before any upsert", func(t *testing.T) {
		msgs := seed()
		f := newTurnFixture(msgs)
		target := msgs[2]

		var calls []string
		stream := &scriptedStream{events: deltas("ok")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("DeleteMessages", mock.Anything, f.sid, target.CreatedAt).
			Run(func(mock.Arguments) { calls = append(calls, "delete") }).
			Return(nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).
			Run(func(mock.Arguments) { calls = append(calls, "upsert") }).
			Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		_, err := f.svc.Edit(ctx, TurnRequest{SessionID: f.sid, MessageID: target.ID, Content: "edited"})
		require.NoError(t, err)

		require.NotEmpty(t, calls)
		assert.Equal(t, "delete", calls[0])
		for _, call := range calls[1:] {
			assert.Equal(t, "upsert", call)
		}
	})

	t.Run("only messages before the edit are sent as context", func(t *testing.T) {
		msgs := seed()
		f := newTurnFixture(msgs)
		target := msgs[2]

		var captured backend.ChatRequest
		stream := &scriptedStream{events: deltas("ok")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).
			Run(func(args mock.Arguments) { captured = args.Get(1).(backend.ChatRequest) }).
			Return(stream, nil)
		f.remote.On("DeleteMessages", mock.Anything, f.sid, target.CreatedAt).Return(nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		_, err := f.svc.Edit(ctx, TurnRequest{SessionID: f.sid, MessageID: target.ID, Content: "edited"})
		require.NoError(t, err)

		require.Len(t, captured.PriorMessages, 2)
		assert.Equal(t, "first", captured.PriorMessages[0].Content)
		assert.Equal(t, "first reply", captured.PriorMessages[1].Content)
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newTurnFixture(seed())
		_, err := f.svc.Edit(ctx, TurnRequest{SessionID: f.sid, MessageID: uuid.New(), Content: "x"})
		assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	})

	t.Run("rejects editing an assistant message", func(t *testing.T) {
		msgs := seed()
		f := newTurnFixture(msgs)
		_, err := f.svc.Edit(ctx, TurnRequest{SessionID: f.sid, MessageID: msgs[1].ID, Content: "x"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrMessageNotFound)
	})
}

func TestTurnService_Regenerate(t *testing.T) {
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	t.Run("replaces the reply and leaves the user message untouched", func(t *testing.T) {
		user := domain.Message{ID: uuid.New(), Role: domain.RoleUser, Content: "question", CreatedAt: base}
		reply := domain.Message{ID: uuid.New(), Role: domain.RoleAssistant, Content: "old reply", CreatedAt: base.Add(time.Second)}
		f := newTurnFixture([]domain.Message{user, reply})

		var captured backend.ChatRequest
		stream := &scriptedStream{events: deltas("new reply")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).
			Run(func(args mock.Arguments) { captured = args.Get(1).(backend.ChatRequest) }).
			Return(stream, nil)
		f.remote.On("DeleteMessages", mock.Anything, f.sid, reply.CreatedAt).Return(nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		res, err := f.svc.Regenerate(ctx, TurnRequest{SessionID: f.sid, MessageID: user.ID})
		require.NoError(t, err)

		assert.Equal(t, user.ID, res.UserMessage.ID)
		assert.Equal(t, "question", res.UserMessage.Content)
		assert.Equal(t, user.CreatedAt, res.UserMessage.CreatedAt)
		assert.Equal(t, "new reply", res.AssistantMessage.Content)
		assert.True(t, captured.IsRegenerate)
		assert.Empty(t, captured.PriorMessages)

		got := f.sessions.tl.Messages()
		require.Len(t, got, 2)
		assert.Equal(t, "new reply", got[1].Content)

		// Only the fresh reply is persisted; the user message never changed.
		f.remote.AssertNumberOfCalls(t, "UpsertMessage", 1)
	})

	t.Run("regenerating the last user message with no reply skips truncation", func(t *testing.T) {
		user := domain.Message{ID: uuid.New(), Role: domain.RoleUser, Content: "question", CreatedAt: base}
		f := newTurnFixture([]domain.Message{user})

		stream := &scriptedStream{events: deltas("reply")}
		f.provider.On("StreamChat", mock.Anything, mock.AnythingOfType("backend.ChatRequest")).Return(stream, nil)
		f.remote.On("UpsertMessage", mock.Anything, mock.AnythingOfType("*domain.Message")).Return(nil)
		f.cache.On("Set", mock.Anything, f.sid, mock.AnythingOfType("[]domain.Message")).Return(nil)

		_, err := f.svc.Regenerate(ctx, TurnRequest{SessionID: f.sid, MessageID: user.ID})
		require.NoError(t, err)
		f.remote.AssertNotCalled(t, "DeleteMessages", mock.Anything, mock.Anything, mock.Anything)
	})
}

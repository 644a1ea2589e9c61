package service

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/domain"
	"github.com/stretchr/testify/mock"
)

// MockRemoteStore mocks the RemoteStore interface
type MockRemoteStore struct {
	mock.Mock
}

func (m *MockRemoteStore) ListSessions(ctx context.Context, userID uuid.UUID) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockRemoteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockRemoteStore) RenameSession(ctx context.Context, id uuid.UUID, title string) error {
	args := m.Called(ctx, id, title)
	return args.Error(0)
}

func (m *MockRemoteStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRemoteStore) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

func (m *MockRemoteStore) UpsertMessage(ctx context.Context, message *domain.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockRemoteStore) DeleteMessages(ctx context.Context, sessionID uuid.UUID, since time.Time) error {
	args := m.Called(ctx, sessionID, since)
	return args.Error(0)
}

func (m *MockRemoteStore) UpsertVote(ctx context.Context, vote domain.Vote) error {
	args := m.Called(ctx, vote)
	return args.Error(0)
}

func (m *MockRemoteStore) DeleteVote(ctx context.Context, userID, messageID uuid.UUID) error {
	args := m.Called(ctx, userID, messageID)
	return args.Error(0)
}

func (m *MockRemoteStore) SearchSessions(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]domain.Session, error) {
	args := m.Called(ctx, query, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Session), args.Error(1)
}

func (m *MockRemoteStore) SearchMessages(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]domain.Message, error) {
	args := m.Called(ctx, query, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Message), args.Error(1)
}

// MockMessageCache mocks the MessageCache interface
type MockMessageCache struct {
	mock.Mock
}

func (m *MockMessageCache) Get(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, bool, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]domain.Message), args.Bool(1), args.Error(2)
}

func (m *MockMessageCache) Set(ctx context.Context, sessionID uuid.UUID, messages []domain.Message) error {
	args := m.Called(ctx, sessionID, messages)
	return args.Error(0)
}

func (m *MockMessageCache) Remove(ctx context.Context, sessionID uuid.UUID) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockMessageCache) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockProvider mocks backend.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockProvider) IsConfigured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockProvider) StreamChat(ctx context.Context, req backend.ChatRequest) (backend.EventStream, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(backend.EventStream), args.Error(1)
}

// scriptedStream plays back a fixed sequence of events, then the final
// error. A nil final error means io.EOF, a clean end of stream.
type scriptedStream struct {
	events []domain.StreamEvent
	final  error
	pos    int
	closed bool
}

func (s *scriptedStream) Next() (domain.StreamEvent, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.final != nil {
		return domain.StreamEvent{}, s.final
	}
	return domain.StreamEvent{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

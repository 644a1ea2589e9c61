package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/domain"
)

// ErrSearchSuperseded reports that a newer query replaced this one before it
// completed. Its results must not be shown.
var ErrSearchSuperseded = errors.New("search superseded by a newer query")

// SearchRequest is one search invocation as typed by the user.
type SearchRequest struct {
	UserID uuid.UUID
	Scope  domain.SearchScope
	Query  string
	Offset int
}

// SearchPage is one page of results. HasMore signals that another page may
// follow at the next offset.
type SearchPage struct {
	Results []domain.SearchResult
	HasMore bool
}

// SearchService runs session and message searches against the remote store.
// Keystroke queries are debounced; when a newer query arrives, pending and
// in-flight older ones are cancelled and their results discarded.
type SearchService struct {
	remote   domain.RemoteStore
	debounce time.Duration
	pageSize int

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewSearchService creates a new search service
func NewSearchService(remote domain.RemoteStore, cfg config.SearchConfig) *SearchService {
	return &SearchService{
		remote:   remote,
		debounce: cfg.Debounce,
		pageSize: cfg.PageSize,
	}
}

// Search executes a query after the debounce window. A call made while an
// older one is waiting or in flight supersedes it: the older call returns
// ErrSearchSuperseded. Pagination calls (offset > 0) skip the debounce.
// An empty query cancels any pending search and returns an empty page.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if strings.TrimSpace(req.Query) == "" {
		return &SearchPage{Results: []domain.SearchResult{}}, nil
	}

	if req.Offset == 0 && s.debounce > 0 {
		timer := time.NewTimer(s.debounce)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ErrSearchSuperseded
		}
	}
	if s.stale(gen) {
		return nil, ErrSearchSuperseded
	}

	page, err := s.execute(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrSearchSuperseded
		}
		return nil, err
	}
	if s.stale(gen) {
		return nil, ErrSearchSuperseded
	}
	return page, nil
}

func (s *SearchService) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// execute fans the query out to the scoped sources and folds the results
// into one recency-ordered page.
func (s *SearchService) execute(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	sessions, err := s.remote.SearchSessions(ctx, req.Query, req.UserID, req.Offset, s.pageSize)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	if req.Scope == domain.ScopeContent {
		messages, err = s.remote.SearchMessages(ctx, req.Query, req.UserID, req.Offset, s.pageSize)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(sessions)+len(messages))
	results := make([]domain.SearchResult, 0, len(sessions)+len(messages))
	add := func(r domain.SearchResult) {
		if _, ok := seen[r.Key()]; ok {
			return
		}
		seen[r.Key()] = struct{}{}
		results = append(results, r)
	}
	for _, sess := range sessions {
		add(domain.SearchResult{
			Kind:      domain.ResultSession,
			ID:        sess.ID,
			SessionID: sess.ID,
			Title:     sess.Title,
			Timestamp: sess.UpdatedAt,
		})
	}
	for _, msg := range messages {
		add(domain.SearchResult{
			Kind:      domain.ResultMessage,
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Snippet:   snippet(msg.Content, req.Query),
			Timestamp: msg.CreatedAt,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})

	return &SearchPage{
		Results: results,
		HasMore: len(sessions) == s.pageSize || len(messages) == s.pageSize,
	}, nil
}

// snippetRadius is how many runes of context surround the match.
const snippetRadius = 40

// snippet extracts a short window of content around the first match of the
// query, falling back to the leading runes when the match is not found.
func snippet(content, query string) string {
	runes := []rune(content)
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	start := 0
	if idx > 0 {
		start = len([]rune(content[:idx]))
	}
	lo := start - snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := start + len([]rune(query)) + snippetRadius
	if hi > len(runes) {
		hi = len(runes)
	}
	out := string(runes[lo:hi])
	if lo > 0 {
		out = "..." + out
	}
	if hi < len(runes) {
		out += "..."
	}
	return out
}

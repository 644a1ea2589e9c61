// Package gemini adapts the Google Generative AI SDK to the engine's event
// stream contract, so turns look the same regardless of backend.
package gemini

import (
	"context"
	"fmt"
	"io"

	"github.com/google/generative-ai-go/genai"
	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/stream"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Provider struct {
	apiKey string
	model  string
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) defaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) StreamChat(ctx context.Context, req backend.ChatRequest) (backend.EventStream, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, &domain.TransportError{Op: "create gemini client", Err: err}
	}

	model := client.GenerativeModel(p.defaultModel())
	cs := model.StartChat()
	cs.History = toHistory(req.PriorMessages)

	iter := cs.SendMessageStream(ctx, genai.Text(req.Prompt))
	return &eventStream{client: client, iter: iter}, nil
}

func toHistory(messages []domain.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	return history
}

// eventStream folds SDK iterator responses into the common event sequence:
// one content-delta per chunk, a token-usage metric, then terminal.
type eventStream struct {
	client *genai.Client
	iter   *genai.GenerateContentResponseIterator
	queue  []domain.StreamEvent
	tokens int
	done   bool
}

func (s *eventStream) Next() (domain.StreamEvent, error) {
	if len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		return ev, nil
	}
	if s.done {
		return domain.StreamEvent{}, io.EOF
	}

	resp, err := s.iter.Next()
	if err == iterator.Done {
		s.done = true
		s.client.Close()
		if s.tokens > 0 {
			s.queue = append(s.queue, domain.StreamEvent{Type: domain.EventTerminal})
			return domain.StreamEvent{
				Type:  domain.EventMetricUpdate,
				Field: stream.MetricTokens,
				Value: float64(s.tokens),
			}, nil
		}
		return domain.StreamEvent{Type: domain.EventTerminal}, nil
	}
	if err != nil {
		s.done = true
		s.client.Close()
		return domain.StreamEvent{}, &domain.TransportError{Op: "gemini stream", Err: err}
	}

	if resp.UsageMetadata != nil {
		s.tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	var text string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return domain.StreamEvent{Type: domain.EventContentDelta, Text: text}, nil
}

func (s *eventStream) Close() error {
	if !s.done {
		s.done = true
		s.client.Close()
	}
	return nil
}

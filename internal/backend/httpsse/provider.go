// Package httpsse streams chat turns from an HTTP endpoint speaking the
// newline-delimited record protocol.
package httpsse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/halden/converse/internal/backend"
	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/domain"
	"github.com/halden/converse/internal/stream"
)

// Provider implements backend.Provider against a streaming HTTP endpoint.
type Provider struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewProvider creates a new streaming HTTP provider.
func NewProvider(cfg config.HTTPSSEConfig) backend.Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Provider{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "httpsse"
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.endpoint != ""
}

// StreamChat opens the streaming request and hands the response body to the
// ingestor. A 429 is classified as quota exhaustion, not a generic failure.
func (p *Provider) StreamChat(ctx context.Context, req backend.ChatRequest) (backend.EventStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Op: "open chat stream", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, domain.ErrQuotaExceeded
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, &domain.TransportError{
			Op:  "open chat stream",
			Err: fmt.Errorf("endpoint returned status %d", resp.StatusCode),
		}
	}

	return stream.New(resp.Body), nil
}

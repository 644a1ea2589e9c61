// Package remote implements domain.RemoteStore over the store's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/halden/converse/internal/config"
	"github.com/halden/converse/internal/domain"
)

// Client talks to the remote session/message store.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a remote store client.
func NewClient(cfg config.RemoteConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// do issues one request and decodes the JSON response into out (when out is
// non-nil). Network failures come back as TransportError; a 404 maps to
// notFound so each endpoint reports the resource it is scoped to; other
// non-2xx statuses map to plain errors carrying the status code.
func (c *Client) do(ctx context.Context, method, path string, body, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrNotAuthenticated
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("remote store returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) ListSessions(ctx context.Context, userID uuid.UUID) ([]domain.Session, error) {
	var sessions []domain.Session
	path := "/v1/sessions?user_id=" + userID.String()
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions, nil); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, session *domain.Session) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions", session, nil, nil)
}

func (c *Client) RenameSession(ctx context.Context, id uuid.UUID, title string) error {
	body := map[string]string{"title": title}
	return c.do(ctx, http.MethodPatch, "/v1/sessions/"+id.String(), body, nil, domain.ErrSessionNotFound)
}

func (c *Client) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/sessions/"+id.String(), nil, nil, domain.ErrSessionNotFound)
}

func (c *Client) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]domain.Message, error) {
	var messages []domain.Message
	path := "/v1/sessions/" + sessionID.String() + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages, domain.ErrSessionNotFound); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) UpsertMessage(ctx context.Context, message *domain.Message) error {
	return c.do(ctx, http.MethodPut, "/v1/messages/"+message.ID.String(), message, nil, domain.ErrMessageNotFound)
}

func (c *Client) DeleteMessages(ctx context.Context, sessionID uuid.UUID, since time.Time) error {
	path := fmt.Sprintf("/v1/sessions/%s/messages?since=%s",
		sessionID, url.QueryEscape(since.UTC().Format(time.RFC3339Nano)))
	return c.do(ctx, http.MethodDelete, path, nil, nil, domain.ErrSessionNotFound)
}

func (c *Client) UpsertVote(ctx context.Context, vote domain.Vote) error {
	return c.do(ctx, http.MethodPut, "/v1/votes", vote, nil, domain.ErrMessageNotFound)
}

func (c *Client) DeleteVote(ctx context.Context, userID, messageID uuid.UUID) error {
	path := fmt.Sprintf("/v1/votes?user_id=%s&message_id=%s", userID, messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, domain.ErrMessageNotFound)
}

func searchPath(kind, query string, userID uuid.UUID, offset, limit int) string {
	q := url.Values{}
	q.Set("q", query)
	q.Set("user_id", userID.String())
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	return "/v1/search/" + kind + "?" + q.Encode()
}

func (c *Client) SearchSessions(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]domain.Session, error) {
	var sessions []domain.Session
	if err := c.do(ctx, http.MethodGet, searchPath("sessions", query, userID, offset, limit), nil, &sessions, nil); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *Client) SearchMessages(ctx context.Context, query string, userID uuid.UUID, offset, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	if err := c.do(ctx, http.MethodGet, searchPath("messages", query, userID, offset, limit), nil, &messages, nil); err != nil {
		return nil, err
	}
	return messages, nil
}

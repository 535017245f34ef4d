package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ErrAuthenticationRequired is returned locally, before any network I/O,
// when a request needs a session and no live access token is available.
var ErrAuthenticationRequired = errors.New("apiclient: authentication required")

// TokenSource yields the current access token when a live session exists.
// *core.Controller satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Item is the template API's example resource.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// CreateItemRequest is the body for POST /items.
type CreateItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (r CreateItemRequest) Validate() error {
	if r.Name == "" || len(r.Name) > 256 {
		return errors.New("name must be 1-256 characters")
	}
	if len(r.Description) > 4096 {
		return errors.New("description must be under 4096 characters")
	}
	return nil
}

// APIError is a non-2xx response from the backend, carrying the envelope's
// error message when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// envelope mirrors the backend's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client calls the template backend. Every request attaches
// "Authorization: Bearer <token>" when the token source yields one; requests
// marked auth-required fail locally with ErrAuthenticationRequired when it
// does not.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   http.DefaultClient,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListItems fetches up to limit items (server default 50, capped at 100).
func (c *Client) ListItems(ctx context.Context, limit int) ([]Item, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Items []Item `json:"items"`
		Count int    `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/items", q, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	var out Item
	err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, nil, &out, true)
	return out, err
}

func (c *Client) CreateItem(ctx context.Context, req CreateItemRequest) (Item, error) {
	if err := req.Validate(); err != nil {
		return Item{}, err
	}
	var out Item
	err := c.do(ctx, http.MethodPost, "/items", nil, req, &out, true)
	return out, err
}

func (c *Client) DeleteItem(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(id), nil, nil, nil, true)
}

// Health pings the unauthenticated health route.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil, false)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, requireAuth bool) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, ok := c.tokens.AccessToken(ctx)
	if ok {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if requireAuth {
		return ErrAuthenticationRequired
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	var env envelope
	if len(raw) > 0 {
		// A body that is not the standard envelope is kept for the error path.
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := env.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// Package client is a Go client for the tasksync HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client talks to one tasksync server on behalf of one owner.
type Client struct {
	baseURL string
	token   string
	header  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUserHeader authenticates by owner id header instead of a bearer
// token, for servers running in header mode behind a trusted proxy.
func WithUserHeader(name string) Option {
	return func(c *Client) { c.header = name }
}

// New creates a client. credential is a bearer token, or the owner id
// when WithUserHeader is set.
func New(baseURL, credential string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   credential,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int          `json:"-"`
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	RequestID  string       `json:"requestId,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("tasksync: %d %s: %s (request %s)", e.StatusCode, e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("tasksync: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// PushResult is a push response plus whether the server replayed a cached
// answer for a retried pushId.
type PushResult struct {
	PushResponse
	Replayed bool
}

// Health fetches the public health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Push sends a batch of operations.
func (c *Client) Push(ctx context.Context, req PushRequest) (*PushResult, error) {
	var out PushResult
	header, err := c.do(ctx, http.MethodPost, "/api/v1/sync/push", req, &out.PushResponse)
	if err != nil {
		return nil, err
	}
	out.Replayed = header.Get("X-Idempotent-Replay") == "true"
	return &out, nil
}

// Pull fetches records written after cursor. Cursor 0 pulls everything;
// pass the returned Cursor on the next call.
func (c *Client) Pull(ctx context.Context, cursor int64) (*PullResponse, error) {
	path := "/api/v1/sync/pull"
	if cursor > 0 {
		path += "?cursor=" + strconv.FormatInt(cursor, 10)
	}
	var out PullResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConflicts lists open conflicts, or all of them when includeResolved.
func (c *Client) ListConflicts(ctx context.Context, includeResolved bool) ([]Conflict, error) {
	path := "/api/v1/sync/conflicts"
	if includeResolved {
		path += "?all=true"
	}
	var out struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

// Resolve settles a conflict with the given strategy.
func (c *Client) Resolve(ctx context.Context, conflictID string, strategy Strategy) (*ResolveResponse, error) {
	path := "/api/v1/sync/conflicts/" + url.PathEscape(conflictID) + "/resolve"
	body := struct {
		Strategy Strategy `json:"strategy"`
	}{strategy}
	var out ResolveResponse
	if _, err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch opens the change stream and calls fn for every event until ctx is
// done or the server closes the stream. A server-initiated close returns
// nil; ctx cancellation returns ctx.Err().
func (c *Client) Watch(ctx context.Context, fn func(Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/v1/sync/stream"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, c.authHeader())
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if json.NewDecoder(resp.Body).Decode(apiErr) != nil {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
			return apiErr
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		fn(ev)
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.header != "" {
		h.Set(c.header, c.token)
	} else if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// do sends an authenticated request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header = c.authHeader()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return resp.Header, apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}

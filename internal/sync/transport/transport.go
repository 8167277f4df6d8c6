// Package transport delivers queued operations to the remote JSON API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/sync/queue"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 15 * time.Second

// UserHeader carries the local session user id on every request.
const UserHeader = "X-Heard-User"

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Result is the classified outcome of one request.
type Result struct {
	Success bool            `json:"success"`
	Status  int             `json:"status,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client sends operations to baseURL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userID     func() string
	logger     *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserID sets the source of the session user id sent in UserHeader.
func WithUserID(fn func() string) Option {
	return func(c *Client) {
		c.userID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Get()
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs the request for op. Network errors, non-2xx statuses and
// unparseable bodies are reported as an unsuccessful Result, not an error.
// An error is returned only when no request could be built.
func (c *Client) Send(ctx context.Context, op queue.Operation) (*Result, error) {
	method := op.Kind.Method()
	if method == "" {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown operation kind %q", op.Kind)
	}

	var body io.Reader
	if op.Kind != queue.KindDelete && len(op.Payload) > 0 {
		body = bytes.NewReader(op.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+op.Endpoint, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != nil {
		if id := c.userID(); id != "" {
			req.Header.Set(UserHeader, id)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Result{Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Result{Status: resp.StatusCode, Error: fmt.Sprintf("failed to read response: %v", err)}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Result{Status: resp.StatusCode, Error: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))}, nil
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return &Result{Success: true, Status: resp.StatusCode}, nil
	}
	if !gjson.ValidBytes(trimmed) {
		return &Result{Status: resp.StatusCode, Error: "response body is not valid JSON"}, nil
	}
	return &Result{Success: true, Status: resp.StatusCode, Body: json.RawMessage(trimmed)}, nil
}

// Deliver adapts Send to queue.DeliverFunc.
func (c *Client) Deliver(ctx context.Context, op queue.Operation) error {
	result, err := c.Send(ctx, op)
	if err != nil {
		return err
	}
	if !result.Success {
		c.logger.Debug("Delivery failed", map[string]interface{}{
			"op_id":    op.ID,
			"endpoint": op.Endpoint,
			"status":   result.Status,
			"error":    result.Error,
		})
		return apperrors.New(apperrors.ErrTransport, result.Error)
	}
	return nil
}

// Ping issues a GET to path and reports whether the API answered with a
// status below 500.
func (c *Client) Ping(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrOffline, "remote unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode >= 500 {
		return apperrors.Newf(apperrors.ErrOffline, "remote unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}

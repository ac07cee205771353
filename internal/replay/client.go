package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omerix/offline-sync/internal/opqueue"
)

// maxErrorBody caps how much of a failed response is kept as the error text.
const maxErrorBody = 64 << 10

// Class is the replay verdict for one operation.
type Class int

const (
	// Delivered means the server confirmed the write with a 2xx status.
	Delivered Class = iota
	// Retryable failures may succeed later: network errors, 5xx, 408, 425, 429.
	Retryable
	// Rejected means the server refused the write; replaying it again will
	// not change the answer.
	Rejected
)

func (c Class) String() string {
	switch c {
	case Delivered:
		return "delivered"
	case Retryable:
		return "retryable"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Classify maps an HTTP status code to a replay verdict.
func Classify(status int) Class {
	switch {
	case status >= 200 && status < 300:
		return Delivered
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return Retryable
	case status >= 400:
		return Rejected
	}
	// 1xx and 3xx are not expected on an API write and are treated as
	// transient.
	return Retryable
}

// Outcome is the result of replaying one operation.
type Outcome struct {
	Class    Class
	Status   int
	Err      error
	Duration time.Duration
}

// OK reports whether the operation was delivered.
func (o Outcome) OK() bool { return o.Class == Delivered }

// Config configures a Client.
type Config struct {
	// BaseURL resolves operation URLs that are relative paths.
	BaseURL string
	// Timeout bounds each replayed request. Defaults to 30s.
	Timeout time.Duration
	// UserAgent is sent when non-empty.
	UserAgent string
}

// Client reissues queued operations against the remote API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a replay client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
		}
		base = u
	}

	return &Client{
		base:       base,
		httpClient: &http.Client{},
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "replay"),
	}, nil
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Resolve returns the absolute URL an operation is sent to.
func (c *Client) Resolve(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.base == nil {
		return "", fmt.Errorf("relative url %q without base url", raw)
	}
	return c.base.JoinPath(u.EscapedPath()).String() + querySuffix(u), nil
}

func querySuffix(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// Do replays op with the given bearer token. It never returns a Go error;
// transport failures are reported as a Retryable outcome.
func (c *Client) Do(ctx context.Context, op *opqueue.Operation, token string) Outcome {
	start := time.Now()
	out := c.do(ctx, op, token)
	out.Duration = time.Since(start)

	c.logger.Debug("operation replayed",
		"id", op.ID,
		"method", op.Method,
		"url", op.URL,
		"status", out.Status,
		"class", out.Class.String(),
		"duration", out.Duration)
	return out
}

func (c *Client) do(ctx context.Context, op *opqueue.Operation, token string) Outcome {
	target, err := c.Resolve(op.URL)
	if err != nil {
		return Outcome{Class: Rejected, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if op.HasBody() {
		body = bytes.NewReader(op.Body)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, target, body)
	if err != nil {
		return Outcome{Class: Rejected, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", op.ID)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Class: Retryable, Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close() //nolint:errcheck

	class := Classify(resp.StatusCode)
	if class == Delivered {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return Outcome{Class: Delivered, Status: resp.StatusCode}
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return Outcome{
		Class:  class,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

// Client talks to a running daemon's local API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
}

// requestTimeout bounds every call except Flush, which lasts as long as the
// pass it waits for.
const requestTimeout = 90 * time.Second

// NewClient creates a client. token authenticates against the local API and
// may be empty when the daemon runs without a secret.
func NewClient(baseURL, token string) *Client {
	return NewClientWithHTTP(baseURL, token, &http.Client{})
}

// NewClientWithHTTP creates a Client with a custom HTTP client (for testing).
func NewClientWithHTTP(baseURL, token string, hc *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: hc,
		timeout:    requestTimeout,
	}
}

// StatusError is a non-2xx reply from the daemon.
type StatusError struct {
	Code     int
	Message  string
	Upstream int
}

func (e *StatusError) Error() string {
	if e.Upstream != 0 {
		return fmt.Sprintf("HTTP %d: %s (upstream %d)", e.Code, e.Message, e.Upstream)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// List returns every queued operation.
func (c *Client) List(ctx context.Context) (*QueueList, error) {
	var ql QueueList
	if err := c.do(ctx, http.MethodGet, "/api/queue", nil, &ql); err != nil {
		return nil, err
	}
	return &ql, nil
}

// Enqueue stores a write for later replay and returns its id.
func (c *Client) Enqueue(ctx context.Context, req WriteRequest) (string, error) {
	var out EnqueueResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Write sends a write through the daemon, which queues it if delivery fails.
func (c *Client) Write(ctx context.Context, req WriteRequest) (*syncer.SubmitResult, error) {
	var out syncer.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/writes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove deletes a queued operation.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil)
}

// Requeue revives a dead operation.
func (c *Client) Requeue(ctx context.Context, id string) (*opqueue.Operation, error) {
	var op opqueue.Operation
	if err := c.do(ctx, http.MethodPost, "/api/queue/"+url.PathEscape(id)+"/requeue", nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Flush runs a sync pass and waits for its result.
func (c *Client) Flush(ctx context.Context) (*syncer.Result, error) {
	var res syncer.Result
	if err := c.send(ctx, 0, http.MethodPost, "/api/sync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetToken stores the ERP session token used for replay.
func (c *Client) SetToken(ctx context.Context, token string) (*security.SessionInfo, error) {
	var info security.SessionInfo
	if err := c.do(ctx, http.MethodPut, "/api/session/token", TokenRequest{Token: token}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ClearToken signs the daemon out.
func (c *Client) ClearToken(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/session/token", nil, nil)
}

// Connectivity reports the front end's view of the network.
func (c *Client) Connectivity(ctx context.Context, online bool, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/connectivity", ConnectivityReport{Online: online, Reason: reason}, nil)
}

// Watch streams events until ctx is cancelled or the connection drops. The
// returned channel is closed when the stream ends.
func (c *Client) Watch(ctx context.Context) (<-chan StreamEvent, error) {
	u, err := url.Parse(c.baseURL + "/api/events")
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	out := make(chan StreamEvent, subscriberBuffer)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			var ev StreamEvent
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.send(ctx, c.timeout, method, path, in, out)
}

// send performs one call; a zero timeout leaves ctx as the only bound.
func (c *Client) send(ctx context.Context, timeout time.Duration, method, path string, in, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		var er ErrorResponse
		if json.Unmarshal(data, &er) != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(data))
		}
		return &StatusError{Code: resp.StatusCode, Message: er.Error, Upstream: er.Status}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

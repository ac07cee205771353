package api

import (
	"encoding/json"
	"time"

	"github.com/omerix/offline-sync/internal/connectivity"
	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/security"
	"github.com/omerix/offline-sync/internal/syncer"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"` // upstream status for rejected writes
}

// Status is returned by GET /api/status.
type Status struct {
	Version       string               `json:"version"`
	UptimeSeconds float64              `json:"uptimeSeconds"`
	Online        bool                 `json:"online"`
	Connectivity  connectivity.Event   `json:"connectivity"`
	Queue         opqueue.Stats        `json:"queue"`
	Pending       int                  `json:"pending"`
	LastFlush     *syncer.Result       `json:"lastFlush,omitempty"`
	Session       security.SessionInfo `json:"session"`
}

// QueueList is returned by GET /api/queue.
type QueueList struct {
	Operations []opqueue.Operation `json:"operations"`
	Stats      opqueue.Stats       `json:"stats"`
}

// WriteRequest is the body of POST /api/queue and POST /api/writes.
type WriteRequest struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

func (w WriteRequest) request() opqueue.Request {
	return opqueue.Request{URL: w.URL, Method: w.Method, Body: w.Body}
}

// EnqueueResponse is returned by POST /api/queue.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// TokenRequest is the body of PUT /api/session/token.
type TokenRequest struct {
	Token string `json:"token"`
}

// ConnectivityReport is the body of POST /api/connectivity.
type ConnectivityReport struct {
	Online bool   `json:"online"`
	Reason string `json:"reason,omitempty"`
}

// Event types on the /api/events stream.
const (
	EventQueue        = "queue"
	EventFlush        = "flush"
	EventConnectivity = "connectivity"
)

// StreamEvent is one message on the /api/events websocket.
type StreamEvent struct {
	Type         string              `json:"type"`
	Queue        *opqueue.Event      `json:"queue,omitempty"`
	Flush        *syncer.Result      `json:"flush,omitempty"`
	FlushError   string              `json:"flushError,omitempty"`
	Connectivity *connectivity.Event `json:"connectivity,omitempty"`
	At           time.Time           `json:"at"`
}

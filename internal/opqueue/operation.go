package opqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an operation id is not in the store.
	ErrNotFound = errors.New("opqueue: operation not found")
	// ErrQueueFull is returned by Enqueue when the configured capacity is reached.
	ErrQueueFull = errors.New("opqueue: queue is full")
	// ErrNotDead is returned by Requeue for an operation that is still live.
	ErrNotDead = errors.New("opqueue: operation is not dead")
	// ErrInvalidRequest is returned when a request cannot be stored.
	ErrInvalidRequest = errors.New("opqueue: invalid request")
)

// State is the replay lifecycle of a queued operation.
type State string

const (
	// StatePending has never failed a replay.
	StatePending State = "pending"
	// StateRetrying failed at least once and waits for its next attempt.
	StateRetrying State = "retrying"
	// StateDead is never replayed again until requeued or discarded.
	StateDead State = "dead"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRetrying, StateDead:
		return true
	}
	return false
}

// Request is the write a caller could not complete online.
type Request struct {
	URL    string          `json:"url"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Operation is one entry of the persistent operation log.
type Operation struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	URL           string          `json:"url"`
	Method        string          `json:"method"`
	Body          json.RawMessage `json:"body,omitempty"`
	CreatedAt     int64           `json:"createdAt"`
	Retries       int             `json:"retries"`
	State         State           `json:"state"`
	NextAttemptAt int64           `json:"nextAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	LastStatus    int             `json:"lastStatus,omitempty"`
}

// HasBody reports whether the operation carries a JSON payload.
func (op *Operation) HasBody() bool {
	return len(op.Body) > 0 && string(op.Body) != "null"
}

// Due reports whether the operation may be replayed at now.
func (op *Operation) Due(now time.Time) bool {
	if op.State == StateDead {
		return false
	}
	return op.NextAttemptAt <= now.UnixMilli()
}

// Created returns CreatedAt as a time.
func (op *Operation) Created() time.Time {
	return time.UnixMilli(op.CreatedAt)
}

// Normalize validates a request and canonicalizes its method and body.
func (r Request) Normalize() (Request, error) {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return r, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}

	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		return r, fmt.Errorf("%w: method is required", ErrInvalidRequest)
	}

	if len(r.Body) > 0 {
		if !json.Valid(r.Body) {
			return r, fmt.Errorf("%w: body is not valid JSON", ErrInvalidRequest)
		}
		if string(r.Body) == "null" {
			r.Body = nil
		}
	}
	return r, nil
}

package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/replay"
)

// OnlineChecker reports the current connectivity state.
type OnlineChecker interface {
	Online() bool
}

// SubmitResult describes what happened to a submitted write.
type SubmitResult struct {
	Delivered bool   `json:"delivered"`
	Status    int    `json:"status,omitempty"`
	QueuedID  string `json:"queuedId,omitempty"`
}

// Writer sends writes directly when online and falls back to the queue when
// the network or the server is unavailable.
type Writer struct {
	queue  *opqueue.Queue
	client Replayer
	online OnlineChecker
	logger *slog.Logger
}

// NewWriter creates a writer. A nil online checker means always try direct.
func NewWriter(queue *opqueue.Queue, client Replayer, online OnlineChecker, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		queue:  queue,
		client: client,
		online: online,
		logger: logger.With("component", "writer"),
	}
}

// Submit performs req. The same id is used as the idempotency key of the
// direct attempt and as the queue id, so a write that reached the server
// before the connection dropped is not applied twice.
func (w *Writer) Submit(ctx context.Context, req opqueue.Request, token string) (SubmitResult, error) {
	req, err := req.Normalize()
	if err != nil {
		return SubmitResult{}, err
	}
	id := w.queue.NewID()

	if token == "" || (w.online != nil && !w.online.Online()) {
		return w.enqueue(ctx, id, req, "offline or signed out")
	}

	op := &opqueue.Operation{
		ID:        id,
		URL:       req.URL,
		Method:    req.Method,
		Body:      req.Body,
		CreatedAt: time.Now().UnixMilli(),
		State:     opqueue.StatePending,
	}
	out := w.client.Do(ctx, op, token)
	switch out.Class {
	case replay.Delivered:
		return SubmitResult{Delivered: true, Status: out.Status}, nil
	case replay.Rejected:
		return SubmitResult{Status: out.Status}, fmt.Errorf("%w: %v", ErrRejected, out.Err)
	}

	res, err := w.enqueue(ctx, id, req, errText(out.Err))
	res.Status = out.Status
	return res, err
}

func (w *Writer) enqueue(ctx context.Context, id string, req opqueue.Request, why string) (SubmitResult, error) {
	id, err := w.queue.EnqueueWithID(ctx, id, req)
	if err != nil {
		return SubmitResult{}, err
	}
	w.logger.Info("write queued for later sync", "id", id, "method", req.Method, "url", req.URL, "cause", why)
	return SubmitResult{QueuedID: id}, nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

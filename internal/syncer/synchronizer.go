package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omerix/offline-sync/internal/opqueue"
	"github.com/omerix/offline-sync/internal/replay"
)

var (
	// ErrFlushInProgress is returned when a flush is already running.
	ErrFlushInProgress = errors.New("syncer: flush already in progress")
	// ErrNoToken is returned when no bearer token is available.
	ErrNoToken = errors.New("syncer: no session token")
	// ErrRejected is returned by Writer.Submit when the server refuses a write.
	ErrRejected = errors.New("syncer: write rejected by server")
)

// Replayer sends one queued operation to the remote API.
type Replayer interface {
	Do(ctx context.Context, op *opqueue.Operation, token string) replay.Outcome
}

// Metrics receives replay and flush observations. Implementations must be
// safe for concurrent use.
type Metrics interface {
	ObserveReplay(outcome string, d time.Duration)
	ObserveFlush(res Result, err error)
}

// TeeMetrics forwards observations to every non-nil sink.
func TeeMetrics(sinks ...Metrics) Metrics {
	var out teeMetrics
	for _, m := range sinks {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

type teeMetrics []Metrics

func (t teeMetrics) ObserveReplay(outcome string, d time.Duration) {
	for _, m := range t {
		m.ObserveReplay(outcome, d)
	}
}

func (t teeMetrics) ObserveFlush(res Result, err error) {
	for _, m := range t {
		m.ObserveFlush(res, err)
	}
}

// Result summarizes one flush pass.
//
// Failed counts every replay that did not succeed, including those that
// became dead during this pass; Dead is the subset of Failed. Deferred
// entries were skipped because their backoff had not elapsed.
type Result struct {
	OK       int           `json:"ok"`
	Failed   int           `json:"failed"`
	Dead     int           `json:"dead"`
	Deferred int           `json:"deferred"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// RetryPolicy bounds replay attempts.
type RetryPolicy struct {
	// MaxRetries is the number of failed replays after which an operation is
	// dead. Zero disables the limit.
	MaxRetries int
	Backoff    Backoff
}

// DefaultRetryPolicy gives up after 10 failed replays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 10, Backoff: DefaultBackoff()}
}

// Synchronizer replays the operation log against the remote API.
type Synchronizer struct {
	queue   *opqueue.Queue
	client  Replayer
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time

	policyMu sync.RWMutex
	policy   RetryPolicy

	// mu is held for the whole pass; TryLock rejects overlapping flushes.
	mu sync.Mutex

	lastMu sync.RWMutex
	last   *Result
}

// NewSynchronizer creates a synchronizer.
func NewSynchronizer(queue *opqueue.Queue, client Replayer, policy RetryPolicy, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		queue:  queue,
		client: client,
		policy: policy,
		logger: logger.With("component", "synchronizer"),
		now:    time.Now,
	}
}

// SetMetrics installs a metrics sink.
func (s *Synchronizer) SetMetrics(m Metrics) { s.metrics = m }

// SetPolicy replaces the retry policy; used on config reload.
func (s *Synchronizer) SetPolicy(p RetryPolicy) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	s.policy = p
}

func (s *Synchronizer) retryPolicy() RetryPolicy {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return s.policy
}

// LastResult returns the result of the most recent completed flush.
func (s *Synchronizer) LastResult() (Result, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Flush replays every due operation in sequence order, one request at a
// time, authenticating with token. Delivered operations are dequeued;
// failed ones stay queued with their retry bookkeeping updated.
//
// A failing entry never aborts the pass. Flush returns early only when ctx
// is cancelled, with the counts accumulated so far.
func (s *Synchronizer) Flush(ctx context.Context, token string) (Result, error) {
	if token == "" {
		return Result{}, ErrNoToken
	}
	if !s.mu.TryLock() {
		return Result{}, ErrFlushInProgress
	}
	defer s.mu.Unlock()

	res, err := s.flush(ctx, token)
	res.Duration = s.now().Sub(res.Started)

	s.lastMu.Lock()
	last := res
	s.last = &last
	s.lastMu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveFlush(res, err)
	}
	return res, err
}

func (s *Synchronizer) flush(ctx context.Context, token string) (Result, error) {
	res := Result{Started: s.now()}

	ops, err := s.queue.GetAll(ctx)
	if err != nil {
		return res, fmt.Errorf("flush: %w", err)
	}
	if len(ops) == 0 {
		return res, nil
	}

	policy := s.retryPolicy()
	for i := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		op := &ops[i]
		if op.State == opqueue.StateDead {
			continue
		}
		if !op.Due(s.now()) {
			res.Deferred++
			continue
		}

		out := s.client.Do(ctx, op, token)
		if s.metrics != nil {
			s.metrics.ObserveReplay(out.Class.String(), out.Duration)
		}

		if out.OK() {
			res.OK++
			if err := s.queue.Dequeue(ctx, op.ID); err != nil {
				// delivered but still stored: the next pass replays it and the
				// idempotency key lets the server drop the duplicate
				s.logger.Error("failed to dequeue delivered operation", "id", op.ID, "error", err)
			}
			continue
		}

		if ctx.Err() != nil {
			// cancelled mid-request; not the operation's fault
			return res, ctx.Err()
		}

		res.Failed++
		if s.recordFailure(ctx, op, out, policy) {
			res.Dead++
		}
	}
	return res, nil
}

// recordFailure updates retry bookkeeping and reports whether op is now dead.
func (s *Synchronizer) recordFailure(ctx context.Context, op *opqueue.Operation, out replay.Outcome, policy RetryPolicy) bool {
	op.Retries++
	op.LastStatus = out.Status
	op.LastError = ""
	if out.Err != nil {
		op.LastError = out.Err.Error()
	}

	switch {
	case out.Class == replay.Rejected:
		op.State = opqueue.StateDead
		op.NextAttemptAt = 0
	case policy.MaxRetries > 0 && op.Retries >= policy.MaxRetries:
		op.State = opqueue.StateDead
		op.NextAttemptAt = 0
	default:
		op.State = opqueue.StateRetrying
		op.NextAttemptAt = s.now().Add(policy.Backoff.Delay(op.Retries)).UnixMilli()
	}

	if err := s.queue.Update(ctx, op); err != nil {
		s.logger.Error("failed to record replay failure", "id", op.ID, "error", err)
	}

	if op.State == opqueue.StateDead {
		s.logger.Warn("operation moved to dead letter",
			"id", op.ID,
			"method", op.Method,
			"url", op.URL,
			"status", op.LastStatus,
			"retries", op.Retries,
			"error", op.LastError)
		return true
	}

	s.logger.Debug("operation replay failed, will retry",
		"id", op.ID,
		"status", op.LastStatus,
		"retries", op.Retries,
		"next_attempt", time.UnixMilli(op.NextAttemptAt))
	return false
}

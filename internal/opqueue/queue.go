package opqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a queue change.
type EventKind string

const (
	EventEnqueued EventKind = "enqueued"
	EventDequeued EventKind = "dequeued"
	EventUpdated  EventKind = "updated"
	EventRequeued EventKind = "requeued"
)

// Event describes one change to the queue.
type Event struct {
	Kind      EventKind  `json:"kind"`
	ID        string     `json:"id"`
	Operation *Operation `json:"operation,omitempty"`
	At        time.Time  `json:"at"`
}

// Stats counts queued operations by state.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Retrying int `json:"retrying"`
	Dead     int `json:"dead"`
}

// Live is the number of operations still eligible for replay.
func (s Stats) Live() int { return s.Pending + s.Retrying }

// Queue is the enqueue/dequeue API over a Store.
type Queue struct {
	store   Store
	logger  *slog.Logger
	maxSize int
	now     func() time.Time
	newID   func() string

	mu        sync.RWMutex
	observers map[int]func(Event)
	nextObs   int
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize limits the number of stored operations. Zero means unlimited.
func WithMaxSize(n int) Option {
	return func(q *Queue) { q.maxSize = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue backed by store.
func New(store Store, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		store:     store,
		logger:    logger.With("component", "opqueue"),
		now:       time.Now,
		newID:     newOperationID,
		observers: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// newOperationID returns a time-ordered UUIDv7: a millisecond timestamp
// followed by random bits, unique even within one tick.
func newOperationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewID returns a fresh operation id.
func (q *Queue) NewID() string { return q.newID() }

// Enqueue records a write that could not complete and returns its id.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	return q.EnqueueWithID(ctx, q.newID(), req)
}

// EnqueueWithID is Enqueue with a caller-chosen id, used when the id was
// already sent as an idempotency key on a direct attempt.
func (q *Queue) EnqueueWithID(ctx context.Context, id string, req Request) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	req, err := req.Normalize()
	if err != nil {
		return "", err
	}

	if q.maxSize > 0 {
		n, err := q.store.Count(ctx)
		if err != nil {
			return "", fmt.Errorf("enqueue: %w", err)
		}
		if n >= q.maxSize {
			return "", ErrQueueFull
		}
	}

	op := &Operation{
		ID:        id,
		URL:       req.URL,
		Method:    req.Method,
		Body:      req.Body,
		CreatedAt: q.now().UnixMilli(),
		Retries:   0,
		State:     StatePending,
	}
	if err := q.store.Add(ctx, op); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	q.logger.Debug("operation queued", "id", op.ID, "seq", op.Seq, "method", op.Method, "url", op.URL)
	q.notify(Event{Kind: EventEnqueued, ID: op.ID, Operation: op})
	return op.ID, nil
}

// Dequeue removes an operation. Removing a missing id succeeds.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	if err := q.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	q.notify(Event{Kind: EventDequeued, ID: id})
	return nil
}

// GetAll returns every queued operation ordered by sequence.
func (q *Queue) GetAll(ctx context.Context) ([]Operation, error) {
	return q.store.GetAll(ctx)
}

// Get returns one operation or ErrNotFound.
func (q *Queue) Get(ctx context.Context, id string) (*Operation, error) {
	return q.store.Get(ctx, id)
}

// Update persists replay bookkeeping for op.
func (q *Queue) Update(ctx context.Context, op *Operation) error {
	if err := q.store.Update(ctx, op); err != nil {
		return fmt.Errorf("update %s: %w", op.ID, err)
	}
	cp := *op
	q.notify(Event{Kind: EventUpdated, ID: op.ID, Operation: &cp})
	return nil
}

// Stats counts operations per state.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	ops, err := q.store.GetAll(ctx)
	if err != nil {
		return Stats{}, err
	}
	return countStates(ops), nil
}

// Pending returns the number of operations awaiting replay, dead ones excluded.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	st, err := q.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return st.Live(), nil
}

// Requeue revives a dead operation with a fresh retry budget.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	op, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if op.State != StateDead {
		return ErrNotDead
	}

	op.State = StatePending
	op.Retries = 0
	op.NextAttemptAt = 0
	op.LastError = ""
	op.LastStatus = 0
	if err := q.store.Update(ctx, op); err != nil {
		return fmt.Errorf("requeue %s: %w", id, err)
	}

	q.logger.Info("dead operation requeued", "id", id, "url", op.URL)
	q.notify(Event{Kind: EventRequeued, ID: id, Operation: op})
	return nil
}

// PurgeDead removes dead operations created before cutoff and returns how
// many were removed.
func (q *Queue) PurgeDead(ctx context.Context, cutoff time.Time) (int, error) {
	ops, err := q.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range ops {
		op := &ops[i]
		if op.State != StateDead || op.CreatedAt >= cutoff.UnixMilli() {
			continue
		}
		if err := q.Dequeue(ctx, op.ID); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		q.logger.Info("purged dead operations", "count", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Subscribe registers fn for queue events and returns a function that
// unregisters it. fn runs synchronously and must not block.
func (q *Queue) Subscribe(fn func(Event)) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.observers, id)
	}
}

// Close closes the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

func (q *Queue) notify(ev Event) {
	ev.At = q.now()

	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, fn := range q.observers {
		fn(ev)
	}
}

func countStates(ops []Operation) Stats {
	st := Stats{Total: len(ops)}
	for i := range ops {
		switch ops[i].State {
		case StateRetrying:
			st.Retrying++
		case StateDead:
			st.Dead++
		default:
			st.Pending++
		}
	}
	return st
}

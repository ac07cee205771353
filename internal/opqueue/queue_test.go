package opqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	q := New(newTestSQLite(t), nil, opts...)
	return q
}

func TestQueue_Enqueue(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1760000000123)
	q := newTestQueue(t, WithClock(func() time.Time { return fixed }))

	id, err := q.Enqueue(ctx, Request{
		URL:    " /api/partes-trabajo/123/notas ",
		Method: "post",
		Body:   []byte(`{"texto":"hola"}`),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	op, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if op.CreatedAt != fixed.UnixMilli() {
		t.Errorf("createdAt = %d, want %d", op.CreatedAt, fixed.UnixMilli())
	}
	if op.Retries != 0 {
		t.Errorf("retries = %d, want 0", op.Retries)
	}
	if op.State != StatePending {
		t.Errorf("state = %s, want pending", op.State)
	}
	if op.Method != "POST" {
		t.Errorf("method = %s, want POST", op.Method)
	}
	if op.URL != "/api/partes-trabajo/123/notas" {
		t.Errorf("url = %q", op.URL)
	}
}

func TestQueue_EnqueueInvalid(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing url", Request{Method: "POST"}},
		{"missing method", Request{URL: "/api/x"}},
		{"body not json", Request{URL: "/api/x", Method: "POST", Body: []byte("{oops")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Enqueue(ctx, tt.req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestQueue_NullBodyStoredAsAbsent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Request{URL: "/api/x", Method: "DELETE", Body: []byte("null")})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	op, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if op.HasBody() {
		t.Errorf("expected no body, got %s", op.Body)
	}
}

func TestQueue_UniqueIDsSameTick(t *testing.T) {
	ctx := context.Background()
	fixed := time.UnixMilli(1760000000000)
	q := New(NewMemoryStore(), nil, WithClock(func() time.Time { return fixed }))

	const n = 200
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]bool, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := q.Enqueue(ctx, Request{URL: "/api/x", Method: "POST"})
			if err != nil {
				t.Errorf("Enqueue failed: %v", err)
				return
			}
			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Errorf("expected %d distinct ids, got %d", n, len(ids))
	}
	ops, _ := q.GetAll(ctx)
	if len(ops) != n {
		t.Errorf("expected %d stored ops, got %d", n, len(ops))
	}
}

func TestQueue_DequeueIdempotent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Request{URL: "/api/x", Method: "PUT"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := q.Dequeue(ctx, id); err != nil {
			t.Fatalf("Dequeue #%d failed: %v", i+1, err)
		}
	}
	ops, err := q.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(ops) != 0 {
		t.Errorf("expected empty queue, got %d", len(ops))
	}
}

func TestQueue_MaxSize(t *testing.T) {
	q := newTestQueue(t, WithMaxSize(2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, Request{URL: "/api/x", Method: "POST"}); err != nil {
			t.Fatalf("Enqueue #%d failed: %v", i+1, err)
		}
	}
	if _, err := q.Enqueue(ctx, Request{URL: "/api/x", Method: "POST"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueue_RequeueAndStats(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	live, _ := q.Enqueue(ctx, Request{URL: "/api/a", Method: "POST"})
	deadID, _ := q.Enqueue(ctx, Request{URL: "/api/b", Method: "POST"})

	op, err := q.Get(ctx, deadID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	op.State = StateDead
	op.Retries = 5
	op.LastStatus = 422
	op.LastError = "http 422"
	if err := q.Update(ctx, op); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 2 || st.Pending != 1 || st.Dead != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if n, _ := q.Pending(ctx); n != 1 {
		t.Errorf("Pending = %d, want 1", n)
	}

	if err := q.Requeue(ctx, live); !errors.Is(err, ErrNotDead) {
		t.Errorf("Requeue(live) = %v, want ErrNotDead", err)
	}
	if err := q.Requeue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Requeue(missing) = %v, want ErrNotFound", err)
	}
	if err := q.Requeue(ctx, deadID); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	op, _ = q.Get(ctx, deadID)
	if op.State != StatePending || op.Retries != 0 || op.LastError != "" || op.LastStatus != 0 {
		t.Errorf("requeue did not reset op: %+v", op)
	}
}

func TestQueue_PurgeDead(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1760000000000)
	q := New(NewMemoryStore(), nil, WithClock(func() time.Time { return now }))

	oldDead, _ := q.Enqueue(ctx, Request{URL: "/api/a", Method: "POST"})
	oldLive, _ := q.Enqueue(ctx, Request{URL: "/api/b", Method: "POST"})
	now = now.Add(48 * time.Hour)
	newDead, _ := q.Enqueue(ctx, Request{URL: "/api/c", Method: "POST"})

	for _, id := range []string{oldDead, newDead} {
		op, _ := q.Get(ctx, id)
		op.State = StateDead
		if err := q.Update(ctx, op); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
	}

	removed, err := q.PurgeDead(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeDead failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := q.Get(ctx, oldDead); !errors.Is(err, ErrNotFound) {
		t.Error("old dead op should be purged")
	}
	for _, id := range []string{oldLive, newDead} {
		if _, err := q.Get(ctx, id); err != nil {
			t.Errorf("op %s should remain: %v", id, err)
		}
	}
}

func TestQueue_Subscribe(t *testing.T) {
	q := New(NewMemoryStore(), nil)
	ctx := context.Background()

	var kinds []EventKind
	cancel := q.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	id, _ := q.Enqueue(ctx, Request{URL: "/api/a", Method: "POST"})
	_ = q.Dequeue(ctx, id)
	cancel()
	_, _ = q.Enqueue(ctx, Request{URL: "/api/b", Method: "POST"})

	if len(kinds) != 2 || kinds[0] != EventEnqueued || kinds[1] != EventDequeued {
		t.Errorf("unexpected events: %v", kinds)
	}
}

func TestOperation_Due(t *testing.T) {
	now := time.UnixMilli(1000)
	tests := []struct {
		name string
		op   Operation
		want bool
	}{
		{"pending", Operation{State: StatePending}, true},
		{"retrying elapsed", Operation{State: StateRetrying, NextAttemptAt: 1000}, true},
		{"retrying future", Operation{State: StateRetrying, NextAttemptAt: 1001}, false},
		{"dead", Operation{State: StateDead}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}

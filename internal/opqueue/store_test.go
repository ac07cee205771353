package opqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOp(id string) *Operation {
	return &Operation{
		ID:        id,
		URL:       "/api/partes-trabajo/123/notas",
		Method:    "POST",
		Body:      []byte(`{"texto":"hola"}`),
		CreatedAt: 1700000000000,
		State:     StatePending,
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	a, b, c := testOp("a"), testOp("b"), testOp("c")
	c.Body = nil
	for _, op := range []*Operation{a, b, c} {
		if err := s.Add(ctx, op); err != nil {
			t.Fatalf("Add(%s) failed: %v", op.ID, err)
		}
	}
	if !(a.Seq < b.Seq && b.Seq < c.Seq) {
		t.Fatalf("sequence not increasing: %d %d %d", a.Seq, b.Seq, c.Seq)
	}

	if err := s.Add(ctx, testOp("a")); err == nil {
		t.Error("expected duplicate id to fail")
	}

	ops, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	for i, want := range []string{"a", "b", "c"} {
		if ops[i].ID != want {
			t.Errorf("ops[%d] = %s, want %s", i, ops[i].ID, want)
		}
	}
	if string(ops[0].Body) != `{"texto":"hola"}` {
		t.Errorf("body = %s", ops[0].Body)
	}
	if ops[2].HasBody() {
		t.Errorf("expected op c without body, got %s", ops[2].Body)
	}

	b.Retries = 2
	b.State = StateRetrying
	b.LastError = "http 503"
	b.LastStatus = 503
	b.NextAttemptAt = 1700000005000
	if err := s.Update(ctx, b); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Retries != 2 || got.State != StateRetrying || got.LastStatus != 503 || got.NextAttemptAt != 1700000005000 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.Seq != b.Seq {
		t.Errorf("update changed seq: %d != %d", got.Seq, b.Seq)
	}

	if err := s.Update(ctx, testOp("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	// removal is idempotent
	for i := 0; i < 2; i++ {
		if err := s.Remove(ctx, "a"); err != nil {
			t.Fatalf("Remove #%d failed: %v", i+1, err)
		}
	}
	if err := s.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("Remove(never-existed) failed: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 ops after remove, got %d", n)
	}

	// sequence numbers are never reused
	d := testOp("d")
	if err := s.Add(ctx, d); err != nil {
		t.Fatalf("Add(d) failed: %v", err)
	}
	if d.Seq <= c.Seq {
		t.Errorf("seq reused: d=%d c=%d", d.Seq, c.Seq)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	runStoreContract(t, newTestSQLite(t))
}

func TestSQLiteStore_DurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue", "ops.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	q := New(s, nil)
	id, err := q.Enqueue(ctx, Request{URL: "/api/partes-trabajo/123/notas", Method: "post", Body: []byte(`{"texto":"hola"}`)})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// reopening must not reset existing data
	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	ops, err := s2.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 op after reopen, got %d", len(ops))
	}
	op := ops[0]
	if op.ID != id || op.Method != "POST" || op.URL != "/api/partes-trabajo/123/notas" {
		t.Errorf("unexpected op after reopen: %+v", op)
	}
	if string(op.Body) != `{"texto":"hola"}` {
		t.Errorf("body = %s", op.Body)
	}
	if op.Retries != 0 || op.State != StatePending {
		t.Errorf("unexpected replay state: retries=%d state=%s", op.Retries, op.State)
	}
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	s, err = Open(ctx, Options{Path: filepath.Join(t.TempDir(), "ops.db")})
	if err != nil {
		t.Fatalf("Open(default) failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := OpenSQLite(""); err == nil {
		t.Error("expected error for empty sqlite path")
	}
}

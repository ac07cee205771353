package opqueue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps operations in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	lastSeq int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ops: make(map[string]*Operation),
	}
}

// Add stores a copy of op and assigns its sequence number.
func (m *MemoryStore) Add(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.ops[op.ID]; exists {
		return fmt.Errorf("add operation %s: duplicate id", op.ID)
	}

	m.lastSeq++
	op.Seq = m.lastSeq
	cp := *op
	m.ops[op.ID] = &cp
	return nil
}

// Update replaces the stored record with the same id.
func (m *MemoryStore) Update(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.ops[op.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *op
	cp.Seq = cur.Seq
	m.ops[op.ID] = &cp
	return nil
}

// Remove deletes the record. Missing ids are not an error.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, id)
	return nil
}

// Get returns a copy of the record.
func (m *MemoryStore) Get(_ context.Context, id string) (*Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *op
	return &cp, nil
}

// GetAll returns copies of all records ordered by sequence.
func (m *MemoryStore) GetAll(_ context.Context) ([]Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		ops = append(ops, *op)
	}
	sortBySeq(ops)
	return ops, nil
}

// Count returns the number of records.
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops), nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

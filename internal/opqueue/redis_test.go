package opqueue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// newTestRedis connects to OMERIX_TEST_REDIS_ADDR and skips when unset.
func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("OMERIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OMERIX_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	ns := fmt.Sprintf("omerix:test:%d", time.Now().UnixNano())
	s, err := OpenRedis(ctx, RedisOptions{Addr: addr, Namespace: ns})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() {
		s.client.Del(ctx, s.seqKey(), s.orderKey())
		s.Close()
	})
	return s
}

func TestRedisStore_Contract(t *testing.T) {
	s := newTestRedis(t)
	runStoreContract(t, s)

	ops, err := s.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	for _, op := range ops {
		s.Remove(context.Background(), op.ID)
	}
}

func TestRedisStore_AddIndexesRecord(t *testing.T) {
	s := newTestRedis(t)
	ctx := context.Background()

	op := testOp("r1")
	if err := s.Add(ctx, op); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	t.Cleanup(func() { s.Remove(ctx, op.ID) })

	score, err := s.client.ZScore(ctx, s.orderKey(), op.ID).Result()
	if err != nil {
		t.Fatalf("order entry missing: %v", err)
	}
	if int64(score) != op.Seq {
		t.Errorf("order score = %v, want seq %d", score, op.Seq)
	}

	dup := testOp("r1")
	if err := s.Add(ctx, dup); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
	score, _ = s.client.ZScore(ctx, s.orderKey(), op.ID).Result()
	if int64(score) != op.Seq {
		t.Errorf("duplicate add moved the order entry to %v", score)
	}
	got, err := s.Get(ctx, op.ID)
	if err != nil || got.Seq != op.Seq {
		t.Errorf("Get after duplicate = %+v, %v", got, err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisOptions{}); err == nil {
		t.Error("expected error for empty address")
	}
}

package opqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// RedisStore keeps each operation as a JSON string and the replay order in
// a sorted set scored by sequence number.
//
// Keys: <ns>:seq (counter), <ns>:order (zset of ids), <ns>:op:<id> (record).
type RedisStore struct {
	client *redis.Client
	ns     string
}

// OpenRedis connects to redis and verifies the connection.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("opqueue: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("opqueue: redis ping: %w", err)
	}
	return NewRedisStore(client, opts.Namespace), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "omerix:opqueue"
	}
	return &RedisStore{client: client, ns: namespace}
}

func (r *RedisStore) seqKey() string        { return r.ns + ":seq" }
func (r *RedisStore) orderKey() string      { return r.ns + ":order" }
func (r *RedisStore) opKey(id string) string { return r.ns + ":op:" + id }

// addScript writes the record and its order entry in one step. It returns 0
// when the id is already taken.
var addScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// Add stores op and assigns the next sequence number. A sequence number
// taken by a failed add is skipped, never reused.
func (r *RedisStore) Add(ctx context.Context, op *Operation) error {
	seq, err := r.client.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	op.Seq = seq

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	created, err := addScript.Run(ctx, r.client,
		[]string{r.opKey(op.ID), r.orderKey()},
		data, seq, op.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("store operation %s: %w", op.ID, err)
	}
	if created == 0 {
		return fmt.Errorf("add operation %s: duplicate id", op.ID)
	}
	return nil
}

// Update overwrites an existing record.
func (r *RedisStore) Update(ctx context.Context, op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}
	ok, err := r.client.SetXX(ctx, r.opKey(op.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the record and its order entry atomically.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.opKey(id))
		pipe.ZRem(ctx, r.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

// Get returns one record.
func (r *RedisStore) Get(ctx context.Context, id string) (*Operation, error) {
	data, err := r.client.Get(ctx, r.opKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("decode operation %s: %w", id, err)
	}
	return &op, nil
}

// GetAll returns all records ordered by sequence.
func (r *RedisStore) GetAll(ctx context.Context) ([]Operation, error) {
	ids, err := r.client.ZRange(ctx, r.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.opKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}

	ops := make([]Operation, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// removed between ZRANGE and MGET
			continue
		}
		var op Operation
		if err := json.Unmarshal([]byte(s), &op); err != nil {
			return nil, fmt.Errorf("decode operation %s: %w", ids[i], err)
		}
		ops = append(ops, op)
	}
	sortBySeq(ops)
	return ops, nil
}

// Count returns the number of records.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.orderKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return int(n), nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

package opqueue

import (
	"context"
	"fmt"
	"sort"
)

// Store is the persistent operation log.
//
// Add assigns the next sequence number to op.Seq. Remove is idempotent.
// GetAll returns every record ordered by Seq.
type Store interface {
	Add(ctx context.Context, op *Operation) error
	Update(ctx context.Context, op *Operation) error
	Remove(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Operation, error)
	GetAll(ctx context.Context) ([]Operation, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend string
	// Path is the sqlite database file.
	Path string
	// RedisAddr, RedisPassword, RedisDB and Namespace configure the redis backend.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Namespace     string
}

// Open opens (creating if missing) the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		return OpenSQLite(opts.Path)
	case BackendRedis:
		return OpenRedis(ctx, RedisOptions{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			Namespace: opts.Namespace,
		})
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", opts.Backend)
	}
}

func sortBySeq(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })
}

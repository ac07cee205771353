package opqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists operations in a single sqlite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at path, creating the file and schema if
// missing. Opening an existing database leaves its records untouched.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("opqueue: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("opqueue: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opqueue: open db: %w", err)
	}
	// one writer keeps ":memory:" on a single connection and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("opqueue: wal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("opqueue: busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opqueue: migrate: %w", err)
	}
	return s, nil
}

// migrate creates tables on first run.
func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS operations (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			url             TEXT NOT NULL,
			method          TEXT NOT NULL,
			body            TEXT,
			created_at      INTEGER NOT NULL,
			retries         INTEGER NOT NULL DEFAULT 0,
			state           TEXT NOT NULL DEFAULT 'pending',
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			last_status     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_state ON operations(state)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Add inserts op in its own transaction and sets op.Seq.
func (s *SQLiteStore) Add(ctx context.Context, op *Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO operations(id, url, method, body, created_at, retries, state, next_attempt_at, last_error, last_status)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.URL, op.Method, nullableBody(op), op.CreatedAt, op.Retries,
		string(op.State), op.NextAttemptAt, op.LastError, op.LastStatus,
	)
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add: %w", err)
	}
	op.Seq = seq
	return nil
}

// Update writes the mutable replay fields of op.
func (s *SQLiteStore) Update(ctx context.Context, op *Operation) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE operations
		 SET retries = ?, state = ?, next_attempt_at = ?, last_error = ?, last_status = ?
		 WHERE id = ?`,
		op.Retries, string(op.State), op.NextAttemptAt, op.LastError, op.LastStatus, op.ID,
	)
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operation %s: %w", op.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the record. Missing ids are not an error.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete operation %s: %w", id, err)
	}
	return nil
}

const selectColumns = `SELECT seq, id, url, method, body, created_at, retries, state, next_attempt_at, last_error, last_status FROM operations`

// Get returns one record.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Operation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return op, nil
}

// GetAll returns all records ordered by sequence.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	return ops, nil
}

// Count returns the number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operations: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(sc scanner) (*Operation, error) {
	var (
		op    Operation
		body  sql.NullString
		state string
	)
	if err := sc.Scan(&op.Seq, &op.ID, &op.URL, &op.Method, &body, &op.CreatedAt,
		&op.Retries, &state, &op.NextAttemptAt, &op.LastError, &op.LastStatus); err != nil {
		return nil, err
	}
	if body.Valid && body.String != "" {
		op.Body = []byte(body.String)
	}
	op.State = State(state)
	return &op, nil
}

func nullableBody(op *Operation) any {
	if !op.HasBody() {
		return nil
	}
	return string(op.Body)
}

// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// dialect captures the differences between the SQL backends
type dialect struct {
	name      string
	blobType  string
	collate   string
	numbered  bool // $1 placeholders instead of ?
	timestamp string
}

var (
	postgresDialect = dialect{name: "postgres", blobType: "BYTEA", collate: ` COLLATE "C"`, numbered: true, timestamp: "TIMESTAMPTZ"}
	sqliteDialect   = dialect{name: "sqlite3", blobType: "BLOB", timestamp: "TIMESTAMP"}
)

// rebind rewrites ? placeholders for dialects that number them
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLRepository implements Repository on a single entities table
type SQLRepository struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

// NewPostgres opens a PostgreSQL repository
func NewPostgres(ctx context.Context, cfg Config) (*SQLRepository, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return newSQLRepository(ctx, db, postgresDialect)
}

// NewSQLite opens a SQLite repository at cfg.URL, or DataDir/indexer.db
func NewSQLite(ctx context.Context, cfg Config) (*SQLRepository, error) {
	path := cfg.URL
	if path == "" {
		path = filepath.Join(cfg.DataDir, "indexer.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return newSQLRepository(ctx, db, sqliteDialect)
}

func newSQLRepository(ctx context.Context, db *sql.DB, d dialect) (*SQLRepository, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", d.name, err)
	}
	r := &SQLRepository{db: db, dialect: d}
	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLRepository) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		value %s NOT NULL,
		updated_at %s NOT NULL,
		PRIMARY KEY (kind, id)
	)`, r.dialect.blobType, r.dialect.timestamp)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table entities: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) put(ctx context.Context, ex execer, kind Kind, id string, value []byte) error {
	query := r.dialect.rebind(`
		INSERT INTO entities (kind, id, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`)
	_, err := ex.ExecContext(ctx, query, string(kind), id, value, time.Now().UTC())
	return err
}

func (r *SQLRepository) delete(ctx context.Context, ex execer, kind Kind, id string) error {
	query := r.dialect.rebind("DELETE FROM entities WHERE kind = ? AND id = ?")
	_, err := ex.ExecContext(ctx, query, string(kind), id)
	return err
}

func (r *SQLRepository) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	query := r.dialect.rebind("SELECT value FROM entities WHERE kind = ? AND id = ?")
	var value []byte
	err := r.db.QueryRowContext(ctx, query, string(kind), id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (r *SQLRepository) Put(ctx context.Context, kind Kind, id string, value []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return r.put(ctx, r.db, kind, id, value)
}

func (r *SQLRepository) Delete(ctx context.Context, kind Kind, id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return r.delete(ctx, r.db, kind, id)
}

// escapeLike escapes LIKE metacharacters with a backslash
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *SQLRepository) List(ctx context.Context, kind Kind, prefix string, limit int) ([]KV, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	query := fmt.Sprintf(`SELECT id, value FROM entities WHERE kind = ? AND id LIKE ? ESCAPE '\' ORDER BY id%s`, r.dialect.collate)
	args := []any{string(kind), escapeLike(prefix) + "%"}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		results = append(results, kv)
	}
	return results, rows.Err()
}

func (r *SQLRepository) Write(ctx context.Context, ops []Op) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, op := range ops {
		if op.Delete {
			err = r.delete(ctx, tx, op.Kind, op.ID)
		} else {
			err = r.put(ctx, tx, op.Kind, op.ID, op.Value)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("write %s %s: %w", op.Kind, op.ID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

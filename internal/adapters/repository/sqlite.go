package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/okian/vitals/pkg/logger"
	_ "modernc.org/sqlite"
)

const memoryDSN = ":memory:"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`

// SQLiteStore keeps values in a single kv table.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
	closed atomic.Bool
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:"
// gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	cfg := newConfig(opts)
	if path == "" {
		path = memoryDSN
	}
	dsn := path
	if path != memoryDSN {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers and keeps a :memory: database alive.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s := &SQLiteStore{db: db, logger: cfg.logger.Named("sqlite")}
	s.logger.Info(ctx, "sqlite store opened", logger.String("path", path))
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (val []byte, err error) {
	defer func(t time.Time) { observe(BackendSQLite, "get", t, err) }(time.Now())
	if s.closed.Load() {
		return nil, ErrClosed
	}
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)
	if err := row.Scan(&val); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return val, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) (err error) {
	defer func(t time.Time) { observe(BackendSQLite, "set", t, err) }(time.Now())
	if key == "" {
		return ErrEmptyKey
	}
	if s.closed.Load() {
		return ErrClosed
	}
	if value == nil {
		value = []byte{}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (err error) {
	defer func(t time.Time) { observe(BackendSQLite, "delete", t, err) }(time.Now())
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

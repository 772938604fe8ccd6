package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultBusyTimeout bounds how long a contended write waits for the lock.
const DefaultBusyTimeout = 15 * time.Second

// schema defines the single cache table. Keys are unique; the version column
// lets readers reject stale entries without decoding the payload.
const schema = `
CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    version TEXT NOT NULL,
    payload BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// SQLiteBackend is the SQLite-backed Backend.
// Atomicity comes from SQLite transactions; readers never observe a partial
// batch. Safe for concurrent use.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (creating when needed) the database at path.
// Use "" or ":memory:" for a private in-memory database.
func NewSQLiteBackend(path string, busyTimeout time.Duration) (*SQLiteBackend, error) {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	memory := path == "" || path == ":memory:"

	var dsn string
	if memory {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_txlock=immediate",
			filepath.ToSlash(path), busyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	abs := path
	if !memory {
		if p, err := filepath.Abs(path); err == nil {
			abs = p
		}
	}
	b := &SQLiteBackend{db: db, path: abs}
	return b, nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Lockspace() string {
	if s.path == "" || s.path == ":memory:" {
		return fmt.Sprintf("sqlite-mem:%p", s)
	}
	return "sqlite:" + s.path
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteBackend) Load(ctx context.Context, key string) (Record, bool, error) {
	r := Record{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload, updated_at FROM cache WHERE key = ?`, key,
	).Scan(&r.Version, &r.Payload, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

func (s *SQLiteBackend) StoreBatch(ctx context.Context, records []Record) (retErr error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache (key, version, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Key, r.Version, r.Payload, r.UpdatedAt); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, keys ...string) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache`)
	return err
}

func (s *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

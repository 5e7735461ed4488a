package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/consentcompanion/policywatch/pkg/host"
	_ "modernc.org/sqlite"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS kv_entries (
  area        TEXT NOT NULL CHECK (area IN ('session','sync','local')),
  key         TEXT NOT NULL,
  value       BLOB NOT NULL,
  updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (area, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_area ON kv_entries(area);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Area returns the named storage tier. It panics on an unknown name, which
// is a programming error.
func (d *DB) Area(name string) *Area {
	if err := validArea(name); err != nil {
		panic(err)
	}
	return &Area{db: d, name: name}
}

// ClearArea deletes every key of the named tier. The daemon clears the
// session tier on start, which is when a new browsing session begins.
func (d *DB) ClearArea(ctx context.Context, name string) error {
	if err := validArea(name); err != nil {
		return err
	}
	if _, err := d.sql.ExecContext(ctx, "DELETE FROM kv_entries WHERE area = ?", name); err != nil {
		return fmt.Errorf("clear area %s: %w", name, err)
	}
	return nil
}

// ListKeys returns every key of the named tier in sorted order.
func (d *DB) ListKeys(ctx context.Context, name string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, "SELECT key FROM kv_entries WHERE area = ? ORDER BY key", name)
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

// Area is a sqlite-backed host.Area.
type Area struct {
	db   *DB
	name string
}

var _ host.Area = (*Area)(nil)

func (a *Area) Get(ctx context.Context, key string, dest any) (bool, error) {
	var raw []byte
	err := a.db.sql.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE area = ? AND key = ?", a.name, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s get %q: %w", a.name, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("%s get %q unmarshal: %w", a.name, key, err)
	}
	return true, nil
}

func (a *Area) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s set %q marshal: %w", a.name, key, err)
	}
	_, err = a.db.sql.ExecContext(ctx, `INSERT INTO kv_entries(area, key, value, updated_at) VALUES(?,?,?,?)
ON CONFLICT(area, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, a.name, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s set %q: %w", a.name, key, err)
	}
	return nil
}

func (a *Area) Remove(ctx context.Context, key string) error {
	if _, err := a.db.sql.ExecContext(ctx, "DELETE FROM kv_entries WHERE area = ? AND key = ?", a.name, key); err != nil {
		return fmt.Errorf("%s remove %q: %w", a.name, key, err)
	}
	return nil
}

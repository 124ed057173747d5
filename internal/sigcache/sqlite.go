package sigcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS signatures (
	path       TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	mtime      INTEGER NOT NULL,
	stamped_at INTEGER NOT NULL
)`

// SQLiteStore keeps signatures in a side file next to the scanner, so the
// cache survives between runs on one machine. Scan and collect processes
// may share the file.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens or creates the cache file at path. A zero ttl keeps
// entries forever.
func OpenSQLiteStore(ctx context.Context, path string, ttl time.Duration) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open signature cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create signature table: %w", err)
	}
	return &SQLiteStore{db: db, ttl: ttl, now: time.Now}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_busy_timeout=5000"
}

func (s *SQLiteStore) GetSignature(ctx context.Context, path string) (Signature, bool, error) {
	var sig Signature
	var stamped int64
	err := s.db.QueryRowContext(ctx,
		"SELECT size, mtime, stamped_at FROM signatures WHERE path = ?", path,
	).Scan(&sig.Size, &sig.ModTime, &stamped)
	if errors.Is(err, sql.ErrNoRows) {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, fmt.Errorf("get signature %s: %w", path, err)
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(0, stamped)) > s.ttl {
		return Signature{}, false, nil
	}
	return sig, true, nil
}

func (s *SQLiteStore) SetSignature(ctx context.Context, path string, sig Signature) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signatures (path, size, mtime, stamped_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			size = excluded.size,
			mtime = excluded.mtime,
			stamped_at = excluded.stamped_at`,
		path, sig.Size, sig.ModTime, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set signature %s: %w", path, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSignature(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM signatures WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete signature %s: %w", path, err)
	}
	return nil
}

// Close releases the database file.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

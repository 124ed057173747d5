// Package sqlite provides the single-node SQLite repository.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	database.RegisterBackend("sqlite", Open)
}

const recordColumns = "id, path, hash, tags, signature, updated_at"

// Dialect is the SQLite query set. Tags are stored as JSON text.
var Dialect = sqlstore.Dialect{
	Name:       "sqlite",
	FindByPath: "SELECT " + recordColumns + " FROM images WHERE path = ?",
	FindByID:   "SELECT " + recordColumns + " FROM images WHERE id = ?",
	ListAfter:  "SELECT " + recordColumns + " FROM images WHERE id > ? ORDER BY id LIMIT ?",
	Count:      "SELECT COUNT(*) FROM images",
	Upsert: `
		INSERT INTO images (path, hash, tags, signature, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			hash = excluded.hash,
			signature = excluded.signature,
			updated_at = excluded.updated_at
	`,

	FindPending:   "SELECT path, enqueued_at FROM pending_images WHERE path = ?",
	InsertPending: "INSERT INTO pending_images (path, enqueued_at) VALUES (?, ?) ON CONFLICT (path) DO NOTHING",
	DeletePending: "DELETE FROM pending_images WHERE path = ?",
	ListPending:   "SELECT path, enqueued_at FROM pending_images WHERE enqueued_at < ? ORDER BY enqueued_at",
	CountPending:  "SELECT COUNT(*) FROM pending_images",

	RecordMigration: "INSERT INTO schema_migrations (version) VALUES (?)",

	EncodeTags: sqlstore.EncodeJSONTags,
	ScanTags:   sqlstore.ScanJSONTags,
}

// New opens (creating if needed) the database file at path and migrates it.
func New(ctx context.Context, path string, log logrus.FieldLogger) (*sqlstore.Repository, error) {
	if path == "" {
		return nil, errors.New("sqlite database path is required")
	}

	// Ensure directory exists
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY and
	// keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	if err := sqlstore.Migrate(ctx, db, &Dialect, sub, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlstore.New(db, &Dialect, nil), nil
}

// Open implements database.OpenFunc.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.Repository, error) {
	return New(ctx, cfg.URL, logrus.StandardLogger())
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
}

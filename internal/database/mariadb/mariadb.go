package mariadb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	database.RegisterBackend("mariadb", Open)
}

const recordColumns = "id, path, hash, tags, signature, updated_at"

// Dialect is the MariaDB/MySQL query set. Tags are stored as JSON text.
var Dialect = sqlstore.Dialect{
	Name:       "mariadb",
	FindByPath: "SELECT " + recordColumns + " FROM images WHERE path = ?",
	FindByID:   "SELECT " + recordColumns + " FROM images WHERE id = ?",
	ListAfter:  "SELECT " + recordColumns + " FROM images WHERE id > ? ORDER BY id LIMIT ?",
	Count:      "SELECT COUNT(*) FROM images",
	Upsert: `
		INSERT INTO images (path, hash, tags, signature, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			hash = VALUES(hash),
			signature = VALUES(signature),
			updated_at = VALUES(updated_at)
	`,

	FindPending:   "SELECT path, enqueued_at FROM pending_images WHERE path = ?",
	InsertPending: "INSERT IGNORE INTO pending_images (path, enqueued_at) VALUES (?, ?)",
	DeletePending: "DELETE FROM pending_images WHERE path = ?",
	ListPending:   "SELECT path, enqueued_at FROM pending_images WHERE enqueued_at < ? ORDER BY enqueued_at",
	CountPending:  "SELECT COUNT(*) FROM pending_images",

	RecordMigration: "INSERT INTO schema_migrations (version) VALUES (?)",

	EncodeTags: sqlstore.EncodeJSONTags,
	ScanTags:   sqlstore.ScanJSONTags,
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool. Timestamps are always
// parsed and stored in UTC regardless of the DSN.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	mc, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MariaDB DSN: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Migrate applies pending migrations.
func (p *Pool) Migrate(ctx context.Context, log logrus.FieldLogger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return sqlstore.Migrate(ctx, p.db, &Dialect, sub, log)
}

// Open implements database.OpenFunc.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.Repository, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx, logrus.StandardLogger()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return sqlstore.New(pool.db, &Dialect, pool.Close), nil
}

// Package postgres provides the shared PostgreSQL repository used when
// several coordinators write to one store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/database/sqlstore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const pingTimeout = 10 * time.Second

func init() {
	database.RegisterBackend("postgres", Open)
}

// New connects to cfg.URL, applies pending migrations and returns the
// repository. Closing the repository closes the pool.
func New(ctx context.Context, cfg *config.DatabaseConfig, log logrus.FieldLogger) (*sqlstore.Repository, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("postgres database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
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

	log.WithField("max_open_conns", cfg.MaxOpenConns).Debug("postgres repository ready")
	return sqlstore.New(db, &Dialect, db.Close), nil
}

// Open implements database.OpenFunc.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (database.Repository, error) {
	return New(ctx, cfg, logrus.StandardLogger())
}

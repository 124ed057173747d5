package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository is a database.Repository backed by a *sql.DB.
type Repository struct {
	db       *sql.DB
	d        *Dialect
	pageSize int
	closer   func() error
}

var _ database.Repository = (*Repository)(nil)

// New creates a repository. closer runs on Close; nil closes db.
func New(db *sql.DB, d *Dialect, closer func() error) *Repository {
	if closer == nil {
		closer = db.Close
	}
	return &Repository{db: db, d: d, pageSize: constants.RecordPageSize, closer: closer}
}

// DB returns the underlying sql.DB for direct access.
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	if err := r.closer(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRecord(s rowScanner) (database.ImageRecord, error) {
	var rec database.ImageRecord
	var hash int64
	var signature sql.NullString
	if err := s.Scan(&rec.ID, &rec.Path, &hash, r.d.ScanTags(&rec.Tags), &signature, &rec.UpdatedAt); err != nil {
		return database.ImageRecord{}, err
	}
	rec.Hash = database.HashFromColumn(hash)
	rec.Signature = signature.String
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *Repository) findOne(ctx context.Context, q queryer, query string, arg any) (*database.ImageRecord, error) {
	rec, err := r.scanRecord(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByPath retrieves a record by path, returns nil if not found
func (r *Repository) FindByPath(ctx context.Context, path string) (*database.ImageRecord, error) {
	rec, err := r.findOne(ctx, r.db, r.d.FindByPath, path)
	if err != nil {
		return nil, database.Wrap("find image by path", err)
	}
	return rec, nil
}

// FindByID retrieves a record by id, returns nil if not found
func (r *Repository) FindByID(ctx context.Context, id int64) (*database.ImageRecord, error) {
	rec, err := r.findOne(ctx, r.db, r.d.FindByID, id)
	if err != nil {
		return nil, database.Wrap("find image by id", err)
	}
	return rec, nil
}

// AllRecords streams records ordered by id. Rows are fetched in pages so no
// connection is held while the caller processes a record.
func (r *Repository) AllRecords(ctx context.Context) iter.Seq2[database.ImageRecord, error] {
	return func(yield func(database.ImageRecord, error) bool) {
		var lastID int64
		for {
			page, err := r.page(ctx, lastID)
			if err != nil {
				yield(database.ImageRecord{}, database.Wrap("list images", err))
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
				lastID = rec.ID
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

func (r *Repository) page(ctx context.Context, afterID int64) ([]database.ImageRecord, error) {
	rows, err := r.db.QueryContext(ctx, r.d.ListAfter, afterID, r.pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.ImageRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records stored
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, r.d.Count).Scan(&n); err != nil {
		return 0, database.Wrap("count images", err)
	}
	return n, nil
}

func (r *Repository) upsert(ctx context.Context, q queryer, rec database.ImageRecord) (database.ImageRecord, error) {
	tags, err := r.d.EncodeTags(rec.Tags)
	if err != nil {
		return database.ImageRecord{}, err
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := q.ExecContext(ctx, r.d.Upsert,
		rec.Path, database.HashToColumn(rec.Hash), tags, rec.Signature, updatedAt.UTC()); err != nil {
		return database.ImageRecord{}, err
	}

	stored, err := r.findOne(ctx, q, r.d.FindByPath, rec.Path)
	if err != nil {
		return database.ImageRecord{}, err
	}
	if stored == nil {
		return database.ImageRecord{}, fmt.Errorf("record %s missing after upsert", rec.Path)
	}
	return *stored, nil
}

// Upsert inserts or updates the record for rec.Path
func (r *Repository) Upsert(ctx context.Context, rec database.ImageRecord) (database.ImageRecord, error) {
	stored, err := r.upsert(ctx, r.db, rec)
	if err != nil {
		return database.ImageRecord{}, database.Wrap("upsert image", err)
	}
	return stored, nil
}

// Complete upserts rec and deletes its pending entry in one transaction
func (r *Repository) Complete(ctx context.Context, rec database.ImageRecord) (database.ImageRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return database.ImageRecord{}, database.Wrap("begin complete", err)
	}
	defer tx.Rollback()

	stored, err := r.upsert(ctx, tx, rec)
	if err != nil {
		return database.ImageRecord{}, database.Wrap("complete upsert", err)
	}
	if _, err := tx.ExecContext(ctx, r.d.DeletePending, rec.Path); err != nil {
		return database.ImageRecord{}, database.Wrap("complete delete pending", err)
	}
	if err := tx.Commit(); err != nil {
		return database.ImageRecord{}, database.Wrap("commit complete", err)
	}
	return stored, nil
}

// FindPending returns the pending entry for path, or nil
func (r *Repository) FindPending(ctx context.Context, path string) (*database.PendingImage, error) {
	var p database.PendingImage
	err := r.db.QueryRowContext(ctx, r.d.FindPending, path).Scan(&p.Path, &p.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Wrap("find pending", err)
	}
	p.EnqueuedAt = p.EnqueuedAt.UTC()
	return &p, nil
}

// InsertPending inserts the entry unless the path is already pending
func (r *Repository) InsertPending(ctx context.Context, p database.PendingImage) (bool, error) {
	enqueuedAt := p.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx, r.d.InsertPending, p.Path, enqueuedAt.UTC())
	if err != nil {
		return false, database.Wrap("insert pending", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, database.Wrap("insert pending rows affected", err)
	}
	return n > 0, nil
}

// DeletePending removes the pending entry for path
func (r *Repository) DeletePending(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, r.d.DeletePending, path); err != nil {
		return database.Wrap("delete pending", err)
	}
	return nil
}

// ListPending returns entries enqueued before olderThan
func (r *Repository) ListPending(ctx context.Context, olderThan time.Time) ([]database.PendingImage, error) {
	rows, err := r.db.QueryContext(ctx, r.d.ListPending, olderThan.UTC())
	if err != nil {
		return nil, database.Wrap("list pending", err)
	}
	defer rows.Close()

	var out []database.PendingImage
	for rows.Next() {
		var p database.PendingImage
		if err := rows.Scan(&p.Path, &p.EnqueuedAt); err != nil {
			return nil, database.Wrap("scan pending", err)
		}
		p.EnqueuedAt = p.EnqueuedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("iterate pending", err)
	}
	return out, nil
}

// CountPending returns the number of outstanding entries
func (r *Repository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, r.d.CountPending).Scan(&n); err != nil {
		return 0, database.Wrap("count pending", err)
	}
	return n, nil
}

package database

import (
	"context"
	"iter"
	"time"
)

// ImageReader provides read-only access to fingerprint records
type ImageReader interface {
	// FindByPath retrieves a record by normalized path, returns nil if not found
	FindByPath(ctx context.Context, path string) (*ImageRecord, error)
	// FindByID retrieves a record by id, returns nil if not found
	FindByID(ctx context.Context, id int64) (*ImageRecord, error)
	// AllRecords streams every record ordered by id
	AllRecords(ctx context.Context) iter.Seq2[ImageRecord, error]
	// Count returns the number of records stored
	Count(ctx context.Context) (int, error)
}

// ImageWriter provides write access to fingerprint records
type ImageWriter interface {
	ImageReader

	// Upsert inserts a record or updates hash, signature and timestamp of the
	// record with the same path. Tags are only written on insert.
	Upsert(ctx context.Context, rec ImageRecord) (ImageRecord, error)
}

// PendingStore tracks outstanding hash jobs, at most one per path
type PendingStore interface {
	// FindPending returns the pending entry for path, or nil
	FindPending(ctx context.Context, path string) (*PendingImage, error)
	// InsertPending inserts the entry unless one already exists for the path.
	// Returns true if this call created it.
	InsertPending(ctx context.Context, p PendingImage) (bool, error)
	// DeletePending removes the entry for path; missing entries are not an error
	DeletePending(ctx context.Context, path string) error
	// ListPending returns entries enqueued before olderThan, oldest first
	ListPending(ctx context.Context, olderThan time.Time) ([]PendingImage, error)
	// CountPending returns the number of outstanding entries
	CountPending(ctx context.Context) (int, error)
}

// Repository is the authoritative store shared by coordinators.
type Repository interface {
	ImageWriter
	PendingStore

	// Complete upserts rec and deletes the pending entry for its path in one
	// transaction.
	Complete(ctx context.Context, rec ImageRecord) (ImageRecord, error)

	Close() error
}

// CollectRecords drains AllRecords into a slice.
func CollectRecords(ctx context.Context, r ImageReader) ([]ImageRecord, error) {
	var out []ImageRecord
	for rec, err := range r.AllRecords(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadStats returns record and pending counts.
func LoadStats(ctx context.Context, r Repository) (Stats, error) {
	records, err := r.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	pending, err := r.CountPending(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Records: records, Pending: pending}, nil
}

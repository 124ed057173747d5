package database

import (
	"time"
)

// ImageRecord is the persisted fingerprint of one file.
type ImageRecord struct {
	ID        int64
	Path      string
	Hash      uint64
	Tags      []string
	Signature string // size:mtime signature the hash was computed from
	UpdatedAt time.Time
}

// PendingImage marks a path whose hash job has been sent but not applied yet.
type PendingImage struct {
	Path       string
	EnqueuedAt time.Time
}

// Stats summarises the store contents.
type Stats struct {
	Records int `json:"records"`
	Pending int `json:"pending"`
}

// HashToColumn converts a hash to the signed representation stored in BIGINT columns.
func HashToColumn(h uint64) int64 {
	return int64(h)
}

// HashFromColumn reverses HashToColumn.
func HashFromColumn(v int64) uint64 {
	return uint64(v)
}

// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Hashing constants
const (
	// DefaultMatrixSize is the side of the luminance matrix fed to the DCT
	DefaultMatrixSize = 8

	// DefaultDuplicateThreshold is the default max Hamming distance for two
	// hashes to be considered duplicates
	DefaultDuplicateThreshold = 4

	// MaxThreshold is the largest meaningful Hamming distance
	MaxThreshold = 64
)

// Processing constants
const (
	// DefaultConcurrency is the default number of files processed in parallel
	DefaultConcurrency = 8

	// DefaultWorkerConcurrency is the default number of jobs a remote worker
	// handles in parallel
	DefaultWorkerConcurrency = 4

	// RecordPageSize is the batch size used when streaming all records
	RecordPageSize = 500

	// FailureSampleSize is the number of failures kept in a scan summary
	FailureSampleSize = 20

	// DrainTimeout bounds how long submitted files may run after a scan is cancelled.
	DrainTimeout = 30 * time.Second
)

// Queue constants
const (
	// DefaultQueuePrefix prefixes stream and key names on the broker
	DefaultQueuePrefix = "photo-dedup"

	// DefaultQueueMaxDepth is the request backlog at which senders block
	DefaultQueueMaxDepth = 10000

	// DefaultQueueBlock is how long a receive waits before polling again
	DefaultQueueBlock = 5 * time.Second

	// DefaultClaimIdle is how long an unacknowledged message stays invisible
	// before it is redelivered
	DefaultClaimIdle = time.Minute

	// DefaultMemoryQueueSize is the capacity of each in-process queue
	DefaultMemoryQueueSize = 1024
)

// Cache constants
const (
	// DefaultCacheTTL is the lifetime of a cached file signature
	DefaultCacheTTL = 30 * 24 * time.Hour

	// XattrName is the extended attribute holding a file's signature
	XattrName = "user.photodedup.signature"

	// DefaultCachePath is the side file of the sqlite signature cache
	DefaultCachePath = "photo-dedup-cache.db"
)

// Pending job constants
const (
	// DefaultStaleAfter is the age after which a pending job is considered lost
	DefaultStaleAfter = 24 * time.Hour
)

// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"iter"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

// MockRepository is an in-memory implementation of database.Repository
type MockRepository struct {
	mu      sync.RWMutex
	nextID  int64
	byPath  map[string]*database.ImageRecord
	pending map[string]database.PendingImage

	// Error injection
	FindError     error
	UpsertError   error
	CompleteError error
	PendingError  error
	InsertError   error
	DeleteError   error
	ListError     error

	// Call counters
	UpsertCalls   int
	CompleteCalls int
}

var _ database.Repository = (*MockRepository)(nil)

// NewMockRepository creates a new mock repository
func NewMockRepository() *MockRepository {
	return &MockRepository{
		byPath:  make(map[string]*database.ImageRecord),
		pending: make(map[string]database.PendingImage),
	}
}

func clone(rec *database.ImageRecord) *database.ImageRecord {
	c := *rec
	c.Tags = slices.Clone(rec.Tags)
	return &c
}

// FindByPath retrieves a record by path
func (m *MockRepository) FindByPath(ctx context.Context, path string) (*database.ImageRecord, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byPath[path]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

// FindByID retrieves a record by id
func (m *MockRepository) FindByID(ctx context.Context, id int64) (*database.ImageRecord, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.byPath {
		if rec.ID == id {
			return clone(rec), nil
		}
	}
	return nil, nil
}

// AllRecords streams a snapshot of all records ordered by id
func (m *MockRepository) AllRecords(ctx context.Context) iter.Seq2[database.ImageRecord, error] {
	return func(yield func(database.ImageRecord, error) bool) {
		if m.ListError != nil {
			yield(database.ImageRecord{}, m.ListError)
			return
		}
		for _, rec := range m.Records() {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Records returns all records ordered by id
func (m *MockRepository) Records() []database.ImageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.ImageRecord, 0, len(m.byPath))
	for _, rec := range m.byPath {
		out = append(out, *clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of records
func (m *MockRepository) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPath), nil
}

func (m *MockRepository) upsertLocked(rec database.ImageRecord) database.ImageRecord {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if existing, ok := m.byPath[rec.Path]; ok {
		existing.Hash = rec.Hash
		existing.Signature = rec.Signature
		existing.UpdatedAt = rec.UpdatedAt
		return *clone(existing)
	}
	m.nextID++
	rec.ID = m.nextID
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	m.byPath[rec.Path] = clone(&rec)
	return rec
}

// Upsert inserts or updates a record by path
func (m *MockRepository) Upsert(ctx context.Context, rec database.ImageRecord) (database.ImageRecord, error) {
	if m.UpsertError != nil {
		return database.ImageRecord{}, m.UpsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	return m.upsertLocked(rec), nil
}

// Complete upserts the record and removes its pending entry atomically
func (m *MockRepository) Complete(ctx context.Context, rec database.ImageRecord) (database.ImageRecord, error) {
	if m.CompleteError != nil {
		return database.ImageRecord{}, m.CompleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteCalls++
	stored := m.upsertLocked(rec)
	delete(m.pending, rec.Path)
	return stored, nil
}

// FindPending returns the pending entry for path
func (m *MockRepository) FindPending(ctx context.Context, path string) (*database.PendingImage, error) {
	if m.PendingError != nil {
		return nil, m.PendingError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pending[path]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// InsertPending inserts the entry if the path is not pending yet
func (m *MockRepository) InsertPending(ctx context.Context, p database.PendingImage) (bool, error) {
	if m.InsertError != nil {
		return false, m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[p.Path]; ok {
		return false, nil
	}
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now().UTC()
	}
	m.pending[p.Path] = p
	return true, nil
}

// DeletePending removes the pending entry for path
func (m *MockRepository) DeletePending(ctx context.Context, path string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, path)
	return nil
}

// ListPending returns entries enqueued before olderThan, oldest first
func (m *MockRepository) ListPending(ctx context.Context, olderThan time.Time) ([]database.PendingImage, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.PendingImage
	for _, p := range m.pending {
		if p.EnqueuedAt.Before(olderThan) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

// CountPending returns the number of pending entries
func (m *MockRepository) CountPending(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending), nil
}

// Close is a no-op
func (m *MockRepository) Close() error {
	return nil
}

package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

const statsCacheTTL = 30 * time.Second

// memo holds one value for ttl. Loads are serialized so a burst of requests
// after expiry hits the store once.
type memo[T any] struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	value     T
	expiresAt time.Time
	valid     bool
}

func newMemo[T any](ttl time.Duration) *memo[T] {
	return &memo[T]{ttl: ttl, now: time.Now}
}

func (m *memo[T]) get(ctx context.Context, load func(context.Context) (T, error)) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && m.now().Before(m.expiresAt) {
		return m.value, nil
	}
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	m.value, m.valid = v, true
	m.expiresAt = m.now().Add(m.ttl)
	return v, nil
}

func (m *memo[T]) reset() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// StatsHandler serves record and pending counts.
type StatsHandler struct {
	repo  database.Repository
	log   logrus.FieldLogger
	stats *memo[database.Stats]
}

func NewStatsHandler(repo database.Repository, log logrus.FieldLogger) *StatsHandler {
	return &StatsHandler{repo: repo, log: log, stats: newMemo[database.Stats](statsCacheTTL)}
}

// InvalidateCache makes the next request read the store.
func (h *StatsHandler) InvalidateCache() {
	h.stats.reset()
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.get(r.Context(), func(ctx context.Context) (database.Stats, error) {
		return database.LoadStats(ctx, h.repo)
	})
	if err != nil {
		h.log.WithError(err).Error("failed to load stats")
		respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

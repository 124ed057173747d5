package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

// Applier is the single write path for computed hashes, used by local
// computation and by the result collector alike.
type Applier struct {
	repo  database.Repository
	cache *sigcache.Cache
	log   logrus.FieldLogger
	locks keyLocks
	now   func() time.Time
}

// NewApplier creates an applier. cache may be nil.
func NewApplier(repo database.Repository, cache *sigcache.Cache, log logrus.FieldLogger) *Applier {
	return &Applier{
		repo:  repo,
		cache: cache,
		log:   log,
		locks: keyLocks{m: make(map[string]*keyLock)},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Apply stores hash for path, clears its pending entry and stamps the cache
// with sig. Applying the same result twice leaves a single record.
func (a *Applier) Apply(ctx context.Context, path string, hash uint64, sig sigcache.Signature) (database.ImageRecord, error) {
	key := Key(path)
	unlock := a.locks.lock(key)
	defer unlock()

	rec := database.ImageRecord{
		Path:      key,
		Hash:      hash,
		UpdatedAt: a.now(),
	}
	if !sig.IsZero() {
		rec.Signature = sig.String()
	}

	stored, err := a.repo.Complete(ctx, rec)
	if err != nil {
		return database.ImageRecord{}, err
	}

	if a.cache != nil {
		if err := a.cache.Update(ctx, path, sig); err != nil {
			a.log.WithError(err).WithField("path", path).Warn("failed to update signature cache")
		}
	}
	return stored, nil
}

// Fail releases the pending entry of a job that could not be completed, so
// the next scan sends it again.
func (a *Applier) Fail(ctx context.Context, path string) error {
	key := Key(path)
	unlock := a.locks.lock(key)
	defer unlock()
	return a.repo.DeletePending(ctx, key)
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyLocks serializes work per key without holding a lock per known path.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

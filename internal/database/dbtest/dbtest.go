// Package dbtest holds a behaviour suite shared by every Repository backend.
package dbtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

// RunRepositoryTests runs the suite against fresh repositories from newRepo.
func RunRepositoryTests(t *testing.T, newRepo func(t *testing.T) database.Repository) {
	t.Run("UpsertAndFind", func(t *testing.T) { testUpsertAndFind(t, newRepo(t)) })
	t.Run("UpsertUpdatesExisting", func(t *testing.T) { testUpsertUpdates(t, newRepo(t)) })
	t.Run("HashRoundTrip", func(t *testing.T) { testHashRoundTrip(t, newRepo(t)) })
	t.Run("AllRecords", func(t *testing.T) { testAllRecords(t, newRepo(t)) })
	t.Run("PendingLifecycle", func(t *testing.T) { testPendingLifecycle(t, newRepo(t)) })
	t.Run("InsertPendingIdempotent", func(t *testing.T) { testInsertPendingIdempotent(t, newRepo(t)) })
	t.Run("ConcurrentInsertPending", func(t *testing.T) { testConcurrentInsertPending(t, newRepo(t)) })
	t.Run("ListPending", func(t *testing.T) { testListPending(t, newRepo(t)) })
	t.Run("CompleteIsIdempotent", func(t *testing.T) { testCompleteIdempotent(t, newRepo(t)) })
}

func testUpsertAndFind(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	missing, err := repo.FindByPath(ctx, "/photos/none.jpg")
	require.NoError(t, err)
	assert.Nil(t, missing)

	stored, err := repo.Upsert(ctx, database.ImageRecord{
		Path:      "/photos/a.jpg",
		Hash:      0x1234,
		Tags:      []string{"beach", "2024"},
		Signature: "100:200",
	})
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)
	assert.Equal(t, "/photos/a.jpg", stored.Path)
	assert.Equal(t, uint64(0x1234), stored.Hash)
	assert.Equal(t, []string{"beach", "2024"}, stored.Tags)
	assert.Equal(t, "100:200", stored.Signature)
	assert.False(t, stored.UpdatedAt.IsZero())

	byPath, err := repo.FindByPath(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, byPath)
	assert.Equal(t, stored.ID, byPath.ID)

	byID, err := repo.FindByID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "/photos/a.jpg", byID.Path)

	noID, err := repo.FindByID(ctx, stored.ID+1000)
	require.NoError(t, err)
	assert.Nil(t, noID)
}

func testUpsertUpdates(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	first, err := repo.Upsert(ctx, database.ImageRecord{Path: "/p/b.jpg", Hash: 1, Tags: []string{"keep"}, Signature: "1:1"})
	require.NoError(t, err)

	second, err := repo.Upsert(ctx, database.ImageRecord{Path: "/p/b.jpg", Hash: 2, Signature: "2:2"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same path must keep its id")
	assert.Equal(t, uint64(2), second.Hash)
	assert.Equal(t, "2:2", second.Signature)
	assert.Equal(t, []string{"keep"}, second.Tags, "tags are only written on insert")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testHashRoundTrip(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	for i, h := range []uint64{0, 1, 0x7FFFFFFFFFFFFFFF, 0x8000000000000000, 0xFFFFFFFFFFFFFFFF} {
		path := fmt.Sprintf("/hash/%d.jpg", i)
		_, err := repo.Upsert(ctx, database.ImageRecord{Path: path, Hash: h})
		require.NoError(t, err)

		got, err := repo.FindByPath(ctx, path)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, h, got.Hash, "hash %016x", h)
	}
}

func testAllRecords(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	const total = 25
	for i := range total {
		_, err := repo.Upsert(ctx, database.ImageRecord{Path: fmt.Sprintf("/all/%03d.jpg", i), Hash: uint64(i)})
		require.NoError(t, err)
	}

	records, err := database.CollectRecords(ctx, repo)
	require.NoError(t, err)
	require.Len(t, records, total)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].ID, records[i].ID, "records must be ordered by id")
	}

	// Early break must not leak or panic.
	seen := 0
	for _, err := range repo.AllRecords(ctx) {
		require.NoError(t, err)
		seen++
		if seen == 3 {
			break
		}
	}
	assert.Equal(t, 3, seen)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, n)
}

func testPendingLifecycle(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	p, err := repo.FindPending(ctx, "/q/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, p)

	created, err := repo.InsertPending(ctx, database.PendingImage{Path: "/q/a.jpg", EnqueuedAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, created)

	p, err = repo.FindPending(ctx, "/q/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "/q/a.jpg", p.Path)

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.DeletePending(ctx, "/q/a.jpg"))
	require.NoError(t, repo.DeletePending(ctx, "/q/a.jpg"), "deleting a missing entry is not an error")

	p, err = repo.FindPending(ctx, "/q/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func testInsertPendingIdempotent(t *testing.T, repo database.Repository) {
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	created, err := repo.InsertPending(ctx, database.PendingImage{Path: "/q/b.jpg", EnqueuedAt: first})
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.InsertPending(ctx, database.PendingImage{Path: "/q/b.jpg", EnqueuedAt: first.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created)

	p, err := repo.FindPending(ctx, "/q/b.jpg")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.EnqueuedAt.Equal(first), "timestamp must not change, got %v", p.EnqueuedAt)

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testConcurrentInsertPending(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := repo.InsertPending(ctx, database.PendingImage{Path: "/q/race.jpg", EnqueuedAt: time.Now()})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount, "exactly one insert must win")
}

func testListPending(t *testing.T, repo database.Repository) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, path := range []string{"/old/a.jpg", "/old/b.jpg", "/new/c.jpg"} {
		_, err := repo.InsertPending(ctx, database.PendingImage{Path: path, EnqueuedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	stale, err := repo.ListPending(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "/old/a.jpg", stale[0].Path)
	assert.Equal(t, "/old/b.jpg", stale[1].Path)
}

func testCompleteIdempotent(t *testing.T, repo database.Repository) {
	ctx := context.Background()

	_, err := repo.InsertPending(ctx, database.PendingImage{Path: "/c/a.jpg", EnqueuedAt: time.Now()})
	require.NoError(t, err)

	rec := database.ImageRecord{Path: "/c/a.jpg", Hash: 0xABCDEF, Signature: "5:6"}
	first, err := repo.Complete(ctx, rec)
	require.NoError(t, err)

	p, err := repo.FindPending(ctx, "/c/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, p, "complete must delete the pending entry")

	second, err := repo.Complete(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "duplicate completion must not create a second record")
}

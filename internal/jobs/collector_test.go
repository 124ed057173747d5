package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/database/mock"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

type collectorFixture struct {
	repo      *mock.MockRepository
	transport *MemoryTransport
	channel   *Channel
	store     *sigcache.MemoryStore
	collector *Collector
}

func newCollectorFixture() *collectorFixture {
	repo := mock.NewMockRepository()
	transport := NewMemoryTransport(16, 0)
	channel := NewChannel(transport, repo, quietLogger())
	store := sigcache.NewMemoryStore(0)
	applier := NewApplier(repo, sigcache.New(store, quietLogger()), quietLogger())
	return &collectorFixture{
		repo:      repo,
		transport: transport,
		channel:   channel,
		store:     store,
		collector: NewCollector(channel, applier, quietLogger()),
	}
}

func (f *collectorFixture) deliver(t *testing.T, msg Message) *Delivery {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.transport.Send(ctx, msg))
	d, err := f.transport.Receive(ctx, msg.Kind)
	require.NoError(t, err)
	return d
}

func TestCollectorDuplicateResult(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture()

	_, err := f.channel.Send(ctx, "/photos/a.jpg", []byte{1}, "10:20")
	require.NoError(t, err)

	req, err := f.transport.Receive(ctx, KindHashRequest)
	require.NoError(t, err)
	reqMsg, err := req.Message()
	require.NoError(t, err)

	result := reqMsg.Result(0xABCD)
	require.NoError(t, f.collector.Handle(ctx, f.deliver(t, result)))
	require.NoError(t, f.collector.Handle(ctx, f.deliver(t, result)))

	records := f.repo.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "/photos/a.jpg", records[0].Path)
	assert.Equal(t, uint64(0xABCD), records[0].Hash)
	assert.Equal(t, "10:20", records[0].Signature)

	pending, err := f.repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, f.transport.InFlight(KindHashResult))

	sig, ok, err := f.store.GetSignature(ctx, "/photos/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sigcache.Signature{Size: 10, ModTime: 20}, sig)

	assert.Equal(t, int64(2), f.collector.Stats().Applied)
}

func TestCollectorDropsMalformed(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture()

	require.NoError(t, f.transport.SendRaw(ctx, KindHashResult, []byte("garbage")))
	d, err := f.transport.Receive(ctx, KindHashResult)
	require.NoError(t, err)

	require.NoError(t, f.collector.Handle(ctx, d))
	assert.Zero(t, f.transport.InFlight(KindHashResult), "malformed message must be acked")
	assert.Empty(t, f.repo.Records())
	assert.Equal(t, int64(1), f.collector.Stats().Dropped)
}

func TestCollectorPersistErrorLeavesUnacked(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture()
	f.repo.CompleteError = errors.New("db down")

	d := f.deliver(t, NewRequest("/a.jpg", []byte{1}, "").Result(1))
	err := f.collector.Handle(ctx, d)
	require.Error(t, err)
	assert.Equal(t, 1, f.transport.InFlight(KindHashResult))
	assert.Empty(t, f.repo.Records())
}

func TestCollectorFailedResultReleasesPending(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture()

	_, err := f.channel.Send(ctx, "/a.jpg", []byte{1}, "")
	require.NoError(t, err)

	d := f.deliver(t, NewRequest("/a.jpg", []byte{1}, "").FailedResult(errors.New("bad image")))
	require.NoError(t, f.collector.Handle(ctx, d))

	p, err := f.repo.FindPending(ctx, "/a.jpg")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, f.repo.Records())
	assert.Equal(t, int64(1), f.collector.Stats().Failed)
}

func TestCollectorDropsRequests(t *testing.T) {
	ctx := context.Background()
	f := newCollectorFixture()

	body, err := Encode(NewRequest("/a.jpg", []byte{1}, ""))
	require.NoError(t, err)
	require.NoError(t, f.transport.SendRaw(ctx, KindHashResult, body))
	d, err := f.transport.Receive(ctx, KindHashResult)
	require.NoError(t, err)

	require.NoError(t, f.collector.Handle(ctx, d))
	assert.Zero(t, f.transport.InFlight(KindHashResult))
}

func TestWorkerAndCollectorRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f := newCollectorFixture()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	data := patternPNG(t, 64, 64)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	cache := sigcache.New(f.store, quietLogger())
	sig, err := cache.Current(path)
	require.NoError(t, err)

	hasher := fingerprint.NewHasher(fingerprint.DefaultMatrixSize)
	want, err := hasher.ComputeHash(data)
	require.NoError(t, err)

	worker := NewWorker(f.transport, hasher, 2, quietLogger())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	_, err = f.channel.Send(ctx, path, data, sig.String())
	require.NoError(t, err)

	d, err := f.channel.ReceiveResult(ctx)
	require.NoError(t, err)
	require.NoError(t, f.collector.Handle(ctx, d))

	rec, err := f.repo.FindByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, want, rec.Hash)
	assert.False(t, cache.ShouldProcess(ctx, path), "cache must be stamped after apply")

	cancel()
	<-workerDone
}

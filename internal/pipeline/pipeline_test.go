package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database/mock"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

// patternPNG renders a smooth pattern; invert flips every pixel value.
func patternPNG(t *testing.T, size int, invert bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			fx := float64(x) / float64(size)
			fy := float64(y) / float64(size)
			v := 128 + 60*math.Sin(2*math.Pi*fx*1.3)*math.Cos(2*math.Pi*fy*0.7) + 50*fx*fy - 40*fy*fy
			if invert {
				v = 255 - v
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type fixture struct {
	repo      *mock.MockRepository
	store     *sigcache.MemoryStore
	cache     *sigcache.Cache
	hasher    *fingerprint.Hasher
	applier   *jobs.Applier
	transport *jobs.MemoryTransport
	channel   *jobs.Channel
	reads     atomic.Int32
}

func newFixture() *fixture {
	f := &fixture{
		repo:      mock.NewMockRepository(),
		store:     sigcache.NewMemoryStore(0),
		hasher:    fingerprint.NewHasher(fingerprint.DefaultMatrixSize),
		transport: jobs.NewMemoryTransport(32, 0),
	}
	f.cache = sigcache.New(f.store, quietLogger())
	f.applier = jobs.NewApplier(f.repo, f.cache, quietLogger())
	f.channel = jobs.NewChannel(f.transport, f.repo, quietLogger())
	return f
}

func (f *fixture) deps(local int) Deps {
	return Deps{
		Cache:        f.cache,
		Hasher:       f.hasher,
		Applier:      f.applier,
		Channel:      f.channel,
		LocalWorkers: local,
		Concurrency:  4,
		Log:          quietLogger(),
		ReadFile: func(path string) ([]byte, error) {
			f.reads.Add(1)
			return os.ReadFile(path)
		},
	}
}

func feed(paths ...string) <-chan string {
	ch := make(chan string, len(paths))
	for _, p := range paths {
		ch <- p
	}
	close(ch)
	return ch
}

func TestNewValidatesDeps(t *testing.T) {
	f := newFixture()

	d := f.deps(0)
	d.Channel = nil
	_, err := New(d)
	assert.Error(t, err)

	d = f.deps(2)
	d.Applier = nil
	_, err = New(d)
	assert.Error(t, err)

	d = f.deps(2)
	d.Hasher = nil
	_, err = New(d)
	assert.Error(t, err)

	p, err := New(f.deps(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"check-cache", "decode", "route", "persist"}, p.Steps())

	p, err = New(f.deps(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"check-cache", "decode", "route"}, p.Steps())
}

func TestProcessCompletesAndSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	path := writeFile(t, t.TempDir(), "a.png", patternPNG(t, 64, false))

	p, err := New(f.deps(2))
	require.NoError(t, err)

	o := p.Process(ctx, path)
	require.Equal(t, Completed, o.Kind, "err: %v", o.Err)
	assert.EqualValues(t, 1, f.reads.Load())

	rec, err := f.repo.FindByPath(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, o.Hash, rec.Hash)

	// Unchanged file: no read, no resize, no kernel.
	o = p.Process(ctx, path)
	assert.Equal(t, Skipped, o.Kind)
	assert.EqualValues(t, 1, f.reads.Load())
	assert.Equal(t, 1, f.repo.CompleteCalls)
}

func TestProcessForceIgnoresCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	path := writeFile(t, t.TempDir(), "a.png", patternPNG(t, 32, false))

	p, err := New(f.deps(1))
	require.NoError(t, err)
	require.Equal(t, Completed, p.Process(ctx, path).Kind)

	d := f.deps(1)
	d.Force = true
	forced, err := New(d)
	require.NoError(t, err)
	assert.Equal(t, Completed, forced.Process(ctx, path).Kind)
	assert.Len(t, f.repo.Records(), 1)
}

func TestProcessDecodeFailure(t *testing.T) {
	f := newFixture()
	path := writeFile(t, t.TempDir(), "broken.jpg", []byte("definitely not a jpeg"))

	p, err := New(f.deps(1))
	require.NoError(t, err)

	o := p.Process(context.Background(), path)
	require.Equal(t, Failed, o.Kind)
	var de *fingerprint.DecodeError
	require.ErrorAs(t, o.Err, &de)
	assert.Equal(t, path, de.Path)
	assert.Empty(t, f.repo.Records())
}

func TestProcessMissingFile(t *testing.T) {
	f := newFixture()
	p, err := New(f.deps(1))
	require.NoError(t, err)

	o := p.Process(context.Background(), filepath.Join(t.TempDir(), "gone.png"))
	assert.Equal(t, Failed, o.Kind)
	assert.ErrorIs(t, o.Err, os.ErrNotExist)
}

func TestProcessPersistFailure(t *testing.T) {
	f := newFixture()
	f.repo.CompleteError = errors.New("db down")
	path := writeFile(t, t.TempDir(), "a.png", patternPNG(t, 32, false))

	p, err := New(f.deps(1))
	require.NoError(t, err)

	o := p.Process(context.Background(), path)
	assert.Equal(t, Failed, o.Kind)
	assert.True(t, f.cache.ShouldProcess(context.Background(), path), "cache must not be stamped on failure")
}

func TestProcessRemoteEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	data := patternPNG(t, 32, false)
	path := writeFile(t, t.TempDir(), "a.png", data)

	p, err := New(f.deps(0))
	require.NoError(t, err)

	assert.Equal(t, Enqueued, p.Process(ctx, path).Kind)
	assert.Equal(t, Enqueued, p.Process(ctx, path).Kind, "outstanding job is reported as enqueued")
	assert.Equal(t, 1, f.transport.Len(jobs.KindHashRequest))

	pending, err := f.repo.FindPending(ctx, path)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, f.repo.Records())

	d, err := f.transport.Receive(ctx, jobs.KindHashRequest)
	require.NoError(t, err)
	msg, err := d.Message()
	require.NoError(t, err)
	assert.Equal(t, data, msg.Payload)
	assert.NotEmpty(t, msg.Signature)
}

func TestRunSummaryContinuesAfterFailures(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()
	good1 := writeFile(t, dir, "a.png", patternPNG(t, 32, false))
	good2 := writeFile(t, dir, "b.png", patternPNG(t, 48, true))
	bad := writeFile(t, dir, "c.jpg", []byte("garbage"))

	p, err := New(f.deps(2))
	require.NoError(t, err)

	var seen atomic.Int32
	summary := p.Run(context.Background(), feed(good1, bad, good2), func(Outcome) { seen.Add(1) })

	assert.Equal(t, 2, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Total())
	assert.EqualValues(t, 3, seen.Load())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, bad, summary.Failures[0].Path)
}

func TestRunFailureSampleIsBounded(t *testing.T) {
	f := newFixture()
	dir := t.TempDir()
	var paths []string
	for i := 0; i < constants.FailureSampleSize+5; i++ {
		paths = append(paths, writeFile(t, dir, filepath.Join("bad", string(rune('a'+i))+".jpg"), []byte("x")))
	}

	p, err := New(f.deps(1))
	require.NoError(t, err)
	summary := p.Run(context.Background(), feed(paths...), nil)

	assert.Equal(t, len(paths), summary.Failed)
	assert.Len(t, summary.Failures, constants.FailureSampleSize)
}

func TestRunCancelled(t *testing.T) {
	f := newFixture()
	p, err := New(f.deps(1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	paths := make(chan string)
	summary := p.Run(ctx, paths, nil)
	assert.Zero(t, summary.Total())
}

func TestRunCancelledFinishesSubmittedFiles(t *testing.T) {
	f := newFixture()
	path := writeFile(t, t.TempDir(), "a.png", patternPNG(t, 64, false))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := f.deps(1)
	d.ReadFile = func(p string) ([]byte, error) {
		data, err := os.ReadFile(p)
		cancel() // interrupt arrives while the file is in flight
		return data, err
	}
	p, err := New(d)
	require.NoError(t, err)

	summary := p.Run(ctx, feed(path), nil)
	assert.Equal(t, 1, summary.Completed, "failures: %v", summary.Failures)
	assert.Zero(t, summary.Failed)
	assert.Len(t, f.repo.Records(), 1, "hash computed before the interrupt must be stored")
}

func TestRunDrainTimeoutStopsStuckFiles(t *testing.T) {
	stuck := Step{Name: "stuck", Run: func(ctx context.Context, t *Task) Result {
		<-ctx.Done()
		return Stop(Outcome{Path: t.Path, Kind: Failed, Err: ctx.Err()})
	}}
	p := NewWithSteps(1, quietLogger(), stuck)
	p.drain = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	paths := make(chan string, 1)
	paths <- "/a.jpg"
	time.AfterFunc(20*time.Millisecond, cancel)

	summary := p.Run(ctx, paths, nil)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunFailedOutcomeWithoutError(t *testing.T) {
	bare := Step{Name: "bare", Run: func(ctx context.Context, t *Task) Result {
		return Stop(Outcome{Path: t.Path, Kind: Failed})
	}}
	p := NewWithSteps(1, quietLogger(), bare)

	summary := p.Run(context.Background(), feed("/a.jpg"), nil)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "unknown error", summary.Failures[0].Error)
}

func TestEndToEndDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	dir := t.TempDir()

	original := patternPNG(t, 64, false)
	a := writeFile(t, dir, "a.png", original)
	b := writeFile(t, dir, "copy/b.png", original)
	c := writeFile(t, dir, "c.png", patternPNG(t, 64, true))

	p, err := New(f.deps(2))
	require.NoError(t, err)

	paths := make(chan string)
	go func() {
		defer close(paths)
		assert.NoError(t, Walk(ctx, dir, paths, quietLogger()))
	}()
	summary := p.Run(ctx, paths, nil)
	require.Equal(t, 3, summary.Completed, "failures: %v", summary.Failures)

	records := f.repo.Records()
	require.Len(t, records, 3)
	ids := make(map[string]int64)
	for _, r := range records {
		ids[r.Path] = r.ID
	}

	buckets := cluster.Cluster(cluster.FromRecords(records), constants.DefaultDuplicateThreshold)
	require.Len(t, buckets, 1)
	assert.ElementsMatch(t, []int64{ids[a], ids[b]}, buckets[0].Members)
	assert.NotContains(t, buckets[0].Members, ids[c])
}

package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Cache   *sigcache.Cache
	Hasher  *fingerprint.Hasher
	Applier *jobs.Applier
	// Channel is required when LocalWorkers is zero.
	Channel *jobs.Channel

	// LocalWorkers bounds concurrent local hash computations. Zero sends
	// every file to remote workers.
	LocalWorkers int
	// Concurrency bounds files in flight.
	Concurrency int
	// Force ignores the signature cache.
	Force bool

	Log      logrus.FieldLogger
	ReadFile func(string) ([]byte, error)
}

// Pipeline runs the step chain for each file.
type Pipeline struct {
	steps       []Step
	concurrency int
	drain       time.Duration
	log         logrus.FieldLogger
}

// New assembles the default chain: check-cache, decode, route, persist.
func New(d Deps) (*Pipeline, error) {
	if d.Hasher == nil {
		return nil, errors.New("pipeline: hasher is required")
	}
	if d.LocalWorkers == 0 && d.Channel == nil {
		return nil, errors.New("pipeline: remote routing requires a job channel")
	}
	if d.LocalWorkers > 0 && d.Applier == nil {
		return nil, errors.New("pipeline: local routing requires an applier")
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Cache == nil {
		d.Cache = sigcache.New(nil, d.Log)
	}
	if d.ReadFile == nil {
		d.ReadFile = os.ReadFile
	}
	if d.Concurrency < 1 {
		d.Concurrency = constants.DefaultConcurrency
	}

	steps := []Step{
		checkCacheStep(d.Cache, d.Force),
		decodeStep(d.Hasher.Resizer(), d.ReadFile),
	}
	if d.LocalWorkers > 0 {
		steps = append(steps,
			localRouteStep(d.Hasher.Kernel(), semaphore.NewWeighted(int64(d.LocalWorkers))),
			persistStep(d.Applier),
		)
	} else {
		steps = append(steps, remoteRouteStep(d.Channel))
	}

	return NewWithSteps(d.Concurrency, d.Log, steps...), nil
}

// NewWithSteps creates a pipeline running a custom chain.
func NewWithSteps(concurrency int, log logrus.FieldLogger, steps ...Step) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{steps: steps, concurrency: concurrency, drain: constants.DrainTimeout, log: log}
}

// Steps returns the step names in order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name
	}
	return names
}

// Process runs the chain for path and returns the first terminal outcome.
func (p *Pipeline) Process(ctx context.Context, path string) Outcome {
	t := &Task{Path: path}
	for _, step := range p.steps {
		res := step.Run(ctx, t)
		if !res.done {
			continue
		}
		o := res.outcome
		if o.Kind == Failed {
			p.log.WithError(o.Err).WithFields(logrus.Fields{"path": path, "step": step.Name}).Warn("file failed")
		} else {
			p.log.WithFields(logrus.Fields{"path": path, "outcome": o.Kind}).Debug("file processed")
		}
		return o
	}
	return Outcome{Path: path, Kind: Failed, Err: errors.New("pipeline ended without an outcome")}
}

// Run processes paths until the channel is closed or ctx is cancelled.
// Cancellation stops submissions; files already submitted run to completion.
// onOutcome, if set, is called once per file and never concurrently.
func (p *Pipeline) Run(ctx context.Context, paths <-chan string, onOutcome func(Outcome)) Summary {
	b := &summaryBuilder{notify: onOutcome}

	// Submitted files keep running after ctx is cancelled, for at most
	// p.drain, so hashes already computed still reach the store.
	work, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()
	stopDrain := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.drain, stopWork)
	})
	defer stopDrain()

	var g errgroup.Group
	g.SetLimit(p.concurrency)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case path, ok := <-paths:
			if !ok {
				break loop
			}
			g.Go(func() error {
				b.add(p.Process(work, path))
				return nil
			})
		}
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		p.log.WithError(ctx.Err()).Info("scan interrupted, no further files submitted")
	}
	return b.summary
}

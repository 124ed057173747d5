package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

// Task carries the state of one file through the steps.
type Task struct {
	Path      string
	Signature sigcache.Signature
	Data      []byte
	Matrix    fingerprint.Matrix
	Hash      uint64
}

// Result is either "continue with the next step" or a terminal outcome.
type Result struct {
	done    bool
	outcome Outcome
}

// Continue passes the task on to the next step.
func Continue() Result {
	return Result{}
}

// Stop ends processing with o.
func Stop(o Outcome) Result {
	return Result{done: true, outcome: o}
}

// Step is a named stage of the chain.
type Step struct {
	Name string
	Run  func(ctx context.Context, t *Task) Result
}

func fail(t *Task, err error) Result {
	return Stop(Outcome{Path: t.Path, Kind: Failed, Err: err})
}

func checkCacheStep(cache *sigcache.Cache, force bool) Step {
	return Step{Name: "check-cache", Run: func(ctx context.Context, t *Task) Result {
		process, sig := cache.Check(ctx, t.Path)
		t.Signature = sig
		if !process && !force {
			return Stop(Outcome{Path: t.Path, Kind: Skipped})
		}
		return Continue()
	}}
}

func decodeStep(resizer *fingerprint.Resizer, readFile func(string) ([]byte, error)) Step {
	return Step{Name: "decode", Run: func(ctx context.Context, t *Task) Result {
		data, err := readFile(t.Path)
		if err != nil {
			return fail(t, fmt.Errorf("read %s: %w", t.Path, err))
		}
		m, err := resizer.Matrix(data)
		if err != nil {
			var de *fingerprint.DecodeError
			if errors.As(err, &de) && de.Path == "" {
				de.Path = t.Path
			}
			return fail(t, err)
		}
		t.Data = data
		t.Matrix = m
		return Continue()
	}}
}

func localRouteStep(kernel *fingerprint.Kernel, sem *semaphore.Weighted) Step {
	return Step{Name: "route", Run: func(ctx context.Context, t *Task) Result {
		if err := sem.Acquire(ctx, 1); err != nil {
			return fail(t, err)
		}
		t.Hash = kernel.Hash(t.Matrix)
		sem.Release(1)
		return Continue()
	}}
}

func remoteRouteStep(channel *jobs.Channel) Step {
	return Step{Name: "route", Run: func(ctx context.Context, t *Task) Result {
		var sig string
		if !t.Signature.IsZero() {
			sig = t.Signature.String()
		}
		if _, err := channel.Send(ctx, t.Path, t.Data, sig); err != nil {
			return fail(t, err)
		}
		return Stop(Outcome{Path: t.Path, Kind: Enqueued})
	}}
}

func persistStep(applier *jobs.Applier) Step {
	return Step{Name: "persist", Run: func(ctx context.Context, t *Task) Result {
		if _, err := applier.Apply(ctx, t.Path, t.Hash, t.Signature); err != nil {
			return fail(t, err)
		}
		return Stop(Outcome{Path: t.Path, Kind: Completed, Hash: t.Hash})
	}}
}

// Package pipeline turns file paths into stored fingerprints through a fixed
// chain of steps, locally or by handing the work to remote workers.
package pipeline

import (
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/constants"
)

// OutcomeKind classifies how a file left the pipeline.
type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	Completed
	Enqueued
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Completed:
		return "completed"
	case Enqueued:
		return "enqueued"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result for one path. Err is set for Failed.
type Outcome struct {
	Path string
	Kind OutcomeKind
	Hash uint64
	Err  error
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Skipped   int       `json:"skipped"`
	Completed int       `json:"completed"`
	Enqueued  int       `json:"enqueued"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Failure is a sampled failed path.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Total returns the number of processed paths.
func (s Summary) Total() int {
	return s.Skipped + s.Completed + s.Enqueued + s.Failed
}

type summaryBuilder struct {
	mu      sync.Mutex
	summary Summary
	notify  func(Outcome)
}

func (b *summaryBuilder) add(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o.Kind {
	case Skipped:
		b.summary.Skipped++
	case Completed:
		b.summary.Completed++
	case Enqueued:
		b.summary.Enqueued++
	case Failed:
		b.summary.Failed++
		if len(b.summary.Failures) < constants.FailureSampleSize {
			msg := "unknown error"
			if o.Err != nil {
				msg = o.Err.Error()
			}
			b.summary.Failures = append(b.summary.Failures, Failure{Path: o.Path, Error: msg})
		}
	}
	if b.notify != nil {
		b.notify(o)
	}
}

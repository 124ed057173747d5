package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	body    []byte
	attempt int
}

type inflight struct {
	entry    memoryEntry
	deadline time.Time
}

type memoryQueue struct {
	ready chan memoryEntry

	mu       sync.Mutex
	inflight map[string]inflight
}

// MemoryTransport is an in-process Transport with bounded queues per kind.
// Send blocks while a queue is full. Deliveries not acknowledged within the
// visibility timeout are delivered again.
type MemoryTransport struct {
	visibility time.Duration
	queues     map[Kind]*memoryQueue

	closeOnce sync.Once
	done      chan struct{}
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates a transport holding up to size messages per kind.
// A zero visibility disables redelivery.
func NewMemoryTransport(size int, visibility time.Duration) *MemoryTransport {
	if size < 1 {
		size = 1
	}
	t := &MemoryTransport{
		visibility: visibility,
		queues:     make(map[Kind]*memoryQueue),
		done:       make(chan struct{}),
	}
	for _, k := range []Kind{KindHashRequest, KindHashResult} {
		t.queues[k] = &memoryQueue{
			ready:    make(chan memoryEntry, size),
			inflight: make(map[string]inflight),
		}
	}
	return t
}

func (t *MemoryTransport) Send(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return transportError("send", msg.Key, err)
	}
	return t.SendRaw(ctx, msg.Kind, body)
}

// SendRaw enqueues an already encoded body.
func (t *MemoryTransport) SendRaw(ctx context.Context, kind Kind, body []byte) error {
	q, ok := t.queues[kind]
	if !ok {
		return transportError("send", "", ErrMalformed)
	}
	select {
	case <-t.done:
		return transportError("send", "", ErrClosed)
	default:
	}
	select {
	case q.ready <- memoryEntry{body: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return transportError("send", "", ErrClosed)
	}
}

func (t *MemoryTransport) Receive(ctx context.Context, kind Kind) (*Delivery, error) {
	q, ok := t.queues[kind]
	if !ok {
		return nil, transportError("receive", "", ErrMalformed)
	}

	for {
		t.reclaim(q)
		d, retry, err := t.wait(ctx, kind, q)
		if !retry {
			return d, err
		}
	}
}

// wait blocks for one entry. retry is true when the visibility interval
// elapsed without a delivery so expired entries can be reclaimed.
func (t *MemoryTransport) wait(ctx context.Context, kind Kind, q *memoryQueue) (d *Delivery, retry bool, err error) {
	var wake <-chan time.Time
	if t.visibility > 0 {
		timer := time.NewTimer(t.visibility)
		defer timer.Stop()
		wake = timer.C
	}

	select {
	case e := <-q.ready:
		e.attempt++
		receipt := uuid.NewString()
		q.mu.Lock()
		q.inflight[receipt] = inflight{entry: e, deadline: time.Now().Add(t.visibility)}
		q.mu.Unlock()
		return &Delivery{Receipt: receipt, Kind: kind, Body: e.body, Attempt: e.attempt}, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-t.done:
		return nil, false, transportError("receive", "", ErrClosed)
	case <-wake:
		return nil, true, nil
	}
}

// reclaim moves expired in-flight entries back to the ready queue.
func (t *MemoryTransport) reclaim(q *memoryQueue) {
	if t.visibility <= 0 {
		return
	}
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	for receipt, f := range q.inflight {
		if now.Before(f.deadline) {
			continue
		}
		select {
		case q.ready <- f.entry:
			delete(q.inflight, receipt)
		default:
			return
		}
	}
}

// Ack removes the delivery. Acknowledging an unknown receipt is a no-op.
func (t *MemoryTransport) Ack(ctx context.Context, d *Delivery) error {
	q, ok := t.queues[d.Kind]
	if !ok {
		return transportError("ack", "", ErrMalformed)
	}
	q.mu.Lock()
	delete(q.inflight, d.Receipt)
	q.mu.Unlock()
	return nil
}

// Len returns the number of messages of kind waiting for delivery.
func (t *MemoryTransport) Len(kind Kind) int {
	return len(t.queues[kind].ready)
}

// InFlight returns the number of delivered but unacknowledged messages.
func (t *MemoryTransport) InFlight(kind Kind) int {
	q := t.queues[kind]
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

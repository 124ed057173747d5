package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/photo-dedup/internal/database"
)

// Channel sends hash requests at most once per outstanding path and hands
// results back to the coordinator.
type Channel struct {
	transport Transport
	pending   database.PendingStore
	limiter   *rate.Limiter
	log       logrus.FieldLogger
	now       func() time.Time
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithRateLimit limits Send to perSecond requests with the given burst.
// A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) ChannelOption {
	return func(c *Channel) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewChannel creates a channel over transport using pending as the
// idempotency anchor.
func NewChannel(transport Transport, pending database.PendingStore, log logrus.FieldLogger, opts ...ChannelOption) *Channel {
	c := &Channel{
		transport: transport,
		pending:   pending,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send enqueues a HASH_REQUEST for path unless one is already outstanding.
// It returns true when a request is outstanding after the call, whether it
// was sent now or earlier. On transport failure the pending entry is removed
// again and a *TransportError is returned.
func (c *Channel) Send(ctx context.Context, path string, payload []byte, signature string) (bool, error) {
	key := Key(path)

	existing, err := c.pending.FindPending(ctx, key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		c.log.WithField("key", key).Debug("hash request already pending")
		return true, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("wait for send slot: %w", err)
		}
	}

	created, err := c.pending.InsertPending(ctx, database.PendingImage{Path: key, EnqueuedAt: c.now()})
	if err != nil {
		return false, err
	}
	if !created {
		c.log.WithField("key", key).Debug("hash request enqueued concurrently")
		return true, nil
	}

	if err := c.transport.Send(ctx, NewRequest(path, payload, signature)); err != nil {
		// Use a fresh context so a cancelled send still releases the entry.
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := c.pending.DeletePending(rollbackCtx, key); derr != nil {
			c.log.WithError(derr).WithField("key", key).Error("failed to roll back pending entry")
		}
		return false, transportError("send", key, err)
	}
	return true, nil
}

// ReceiveResult blocks until a HASH_RESULT is delivered.
func (c *Channel) ReceiveResult(ctx context.Context) (*Delivery, error) {
	return c.transport.Receive(ctx, KindHashResult)
}

// Ack acknowledges a delivery.
func (c *Channel) Ack(ctx context.Context, d *Delivery) error {
	if err := c.transport.Ack(ctx, d); err != nil {
		return transportError("ack", "", err)
	}
	return nil
}

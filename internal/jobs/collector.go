package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

// receiveBackoff is the pause after a failed Receive.
const receiveBackoff = time.Second

// CollectorStats counts handled results.
type CollectorStats struct {
	Applied int64
	Failed  int64
	Dropped int64
}

// Collector applies HASH_RESULT messages on a coordinator.
type Collector struct {
	channel *Channel
	applier *Applier
	log     logrus.FieldLogger

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewCollector creates a collector.
func NewCollector(channel *Channel, applier *Applier, log logrus.FieldLogger) *Collector {
	return &Collector{channel: channel, applier: applier, log: log}
}

// Stats returns counters since creation.
func (c *Collector) Stats() CollectorStats {
	return CollectorStats{
		Applied: c.applied.Load(),
		Failed:  c.failed.Load(),
		Dropped: c.dropped.Load(),
	}
}

// Run handles results until ctx is cancelled or the transport is closed.
// Results whose persistence fails stay unacknowledged and are redelivered.
func (c *Collector) Run(ctx context.Context) error {
	for {
		d, err := c.channel.ReceiveResult(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			c.log.WithError(err).Warn("failed to receive result")
			if !sleep(ctx, receiveBackoff) {
				return nil
			}
			continue
		}
		if err := c.Handle(ctx, d); err != nil {
			c.log.WithError(err).Error("failed to handle result, leaving it for redelivery")
		}
	}
}

// Handle processes a single delivery and acknowledges it once its effect is
// durable. Malformed messages are acknowledged and dropped.
func (c *Collector) Handle(ctx context.Context, d *Delivery) error {
	msg, err := d.Message()
	if err != nil {
		c.log.WithError(err).WithField("receipt", d.Receipt).Warn("dropping malformed result")
		c.dropped.Add(1)
		return c.channel.Ack(ctx, d)
	}
	if msg.Kind != KindHashResult {
		c.log.WithFields(logrus.Fields{"key": msg.Key, "kind": msg.Kind}).Warn("dropping unexpected message kind")
		c.dropped.Add(1)
		return c.channel.Ack(ctx, d)
	}

	path := msg.Path
	if path == "" {
		path = msg.Key
	}
	log := c.log.WithFields(logrus.Fields{"key": msg.Key, "attempt": d.Attempt})

	if msg.Failed() {
		if err := c.applier.Fail(ctx, path); err != nil {
			return err
		}
		log.WithField("error", msg.Error).Warn("remote hash failed")
		c.failed.Add(1)
		return c.channel.Ack(ctx, d)
	}

	hash, _ := msg.HashValue()
	sig, err := sigcache.ParseSignature(msg.Signature)
	if err != nil && msg.Signature != "" {
		log.WithError(err).Debug("ignoring unparseable signature")
	}

	if _, err := c.applier.Apply(ctx, path, hash, sig); err != nil {
		return err
	}
	log.Debug("applied remote hash")
	c.applied.Add(1)
	return c.channel.Ack(ctx, d)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

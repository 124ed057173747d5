// Package redisq implements jobs.Transport on Redis Streams. Each message
// kind has its own stream and consumer group; unacknowledged entries idle for
// longer than ClaimIdle are claimed by the next consumer that asks.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
)

const (
	bodyField = "body"

	// Consumer groups per stream.
	WorkerGroup      = "workers"
	CoordinatorGroup = "coordinators"

	depthPoll = 200 * time.Millisecond
)

// Options configures a Transport. Zero values fall back to defaults.
type Options struct {
	Prefix    string
	MaxDepth  int64
	Block     time.Duration
	ClaimIdle time.Duration
	Consumer  string
}

func (o *Options) defaults() {
	if o.Prefix == "" {
		o.Prefix = constants.DefaultQueuePrefix
	}
	if o.Block <= 0 {
		o.Block = constants.DefaultQueueBlock
	}
	if o.ClaimIdle < 0 {
		o.ClaimIdle = 0
	}
	if o.Consumer == "" {
		host, _ := os.Hostname()
		o.Consumer = host + "-" + uuid.NewString()[:8]
	}
}

// Transport is a jobs.Transport backed by Redis Streams.
type Transport struct {
	client redis.UniversalClient
	owned  bool
	opts   Options
	log    logrus.FieldLogger

	mu     sync.Mutex
	groups map[jobs.Kind]bool
	closed atomic.Bool
}

var _ jobs.Transport = (*Transport)(nil)

// New creates a transport over an existing client. Close does not close it.
func New(client redis.UniversalClient, opts Options, log logrus.FieldLogger) *Transport {
	opts.defaults()
	return &Transport{
		client: client,
		opts:   opts,
		log:    log.WithField("consumer", opts.Consumer),
		groups: make(map[jobs.Kind]bool),
	}
}

// Dial connects to the Redis server at url (redis://...) and verifies it.
func Dial(ctx context.Context, url string, opts Options, log logrus.FieldLogger) (*Transport, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	t := New(client, opts, log)
	t.owned = true
	return t, nil
}

// Stream returns the stream name for kind.
func (t *Transport) Stream(kind jobs.Kind) string {
	switch kind {
	case jobs.KindHashRequest:
		return t.opts.Prefix + ":requests"
	default:
		return t.opts.Prefix + ":results"
	}
}

func group(kind jobs.Kind) string {
	if kind == jobs.KindHashRequest {
		return WorkerGroup
	}
	return CoordinatorGroup
}

func (t *Transport) ensureGroup(ctx context.Context, kind jobs.Kind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.groups[kind] {
		return nil
	}
	err := t.client.XGroupCreateMkStream(ctx, t.Stream(kind), group(kind), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group(kind), err)
	}
	t.groups[kind] = true
	return nil
}

// Send appends msg to its stream, waiting while the stream holds MaxDepth
// or more entries.
func (t *Transport) Send(ctx context.Context, msg jobs.Message) error {
	if t.closed.Load() {
		return &jobs.TransportError{Op: "send", Key: msg.Key, Err: jobs.ErrClosed}
	}
	body, err := jobs.Encode(msg)
	if err != nil {
		return &jobs.TransportError{Op: "send", Key: msg.Key, Err: err}
	}
	if err := t.ensureGroup(ctx, msg.Kind); err != nil {
		return &jobs.TransportError{Op: "send", Key: msg.Key, Err: err}
	}
	if err := t.waitForRoom(ctx, msg.Kind); err != nil {
		return err
	}

	err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.Stream(msg.Kind),
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return &jobs.TransportError{Op: "send", Key: msg.Key, Err: err}
	}
	return nil
}

func (t *Transport) waitForRoom(ctx context.Context, kind jobs.Kind) error {
	if t.opts.MaxDepth <= 0 {
		return nil
	}
	ticker := time.NewTicker(depthPoll)
	defer ticker.Stop()
	for {
		depth, err := t.Depth(ctx, kind)
		if err != nil {
			return &jobs.TransportError{Op: "depth", Err: err}
		}
		if depth < t.opts.MaxDepth {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Depth returns the number of entries in the stream of kind.
func (t *Transport) Depth(ctx context.Context, kind jobs.Kind) (int64, error) {
	return t.client.XLen(ctx, t.Stream(kind)).Result()
}

// Receive returns the next entry for this consumer, preferring entries other
// consumers left idle for longer than ClaimIdle.
func (t *Transport) Receive(ctx context.Context, kind jobs.Kind) (*jobs.Delivery, error) {
	if err := t.ensureGroup(ctx, kind); err != nil {
		return nil, &jobs.TransportError{Op: "receive", Err: err}
	}
	stream := t.Stream(kind)

	for {
		if t.closed.Load() {
			return nil, &jobs.TransportError{Op: "receive", Err: jobs.ErrClosed}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if t.opts.ClaimIdle > 0 {
			d, err := t.claim(ctx, kind)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group(kind),
			Consumer: t.opts.Consumer,
			Streams:  []string{stream, ">"},
			Count:    1,
			Block:    t.opts.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &jobs.TransportError{Op: "receive", Err: err}
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				return delivery(kind, m, 1), nil
			}
		}
	}
}

func (t *Transport) claim(ctx context.Context, kind jobs.Kind) (*jobs.Delivery, error) {
	stream := t.Stream(kind)
	msgs, _, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group(kind),
		Consumer: t.opts.Consumer,
		MinIdle:  t.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &jobs.TransportError{Op: "claim", Err: err}
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	m := msgs[0]
	attempt := 2
	pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group(kind),
		Start:  m.ID,
		End:    m.ID,
		Count:  1,
	}).Result()
	if err == nil && len(pending) == 1 {
		attempt = int(pending[0].RetryCount)
	}
	t.log.WithFields(logrus.Fields{"stream": stream, "id": m.ID, "attempt": attempt}).Info("claimed idle message")
	return delivery(kind, m, attempt), nil
}

func delivery(kind jobs.Kind, m redis.XMessage, attempt int) *jobs.Delivery {
	d := &jobs.Delivery{Receipt: m.ID, Kind: kind, Attempt: attempt}
	if v, ok := m.Values[bodyField].(string); ok {
		d.Body = []byte(v)
	}
	return d
}

// Ack acknowledges the entry and removes it from the stream so that Depth
// only counts outstanding work.
func (t *Transport) Ack(ctx context.Context, d *jobs.Delivery) error {
	stream := t.Stream(d.Kind)
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, stream, group(d.Kind), d.Receipt)
		p.XDel(ctx, stream, d.Receipt)
		return nil
	})
	if err != nil {
		return &jobs.TransportError{Op: "ack", Err: err}
	}
	return nil
}

// Close stops further Send and Receive calls and closes an owned client.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.owned {
		return t.client.Close()
	}
	return nil
}

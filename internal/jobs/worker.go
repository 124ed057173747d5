package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Worker computes hashes for HASH_REQUEST messages on a remote node.
type Worker struct {
	transport   Transport
	hasher      *fingerprint.Hasher
	concurrency int
	log         logrus.FieldLogger
}

// NewWorker creates a worker handling up to concurrency requests at once.
func NewWorker(transport Transport, hasher *fingerprint.Hasher, concurrency int, log logrus.FieldLogger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{transport: transport, hasher: hasher, concurrency: concurrency, log: log}
}

// Run consumes requests until ctx is cancelled or the transport is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("concurrency", w.concurrency).Info("worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()

	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	for {
		d, err := w.transport.Receive(ctx, KindHashRequest)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			w.log.WithError(err).Warn("failed to receive request")
			if !sleep(ctx, receiveBackoff) {
				return
			}
			continue
		}
		if err := w.Handle(ctx, d); err != nil {
			w.log.WithError(err).Error("failed to handle request, leaving it for redelivery")
		}
	}
}

// Handle hashes one request and sends the result before acknowledging it.
// Undecodable payloads produce a result carrying the error.
func (w *Worker) Handle(ctx context.Context, d *Delivery) error {
	msg, err := d.Message()
	if err != nil {
		w.log.WithError(err).WithField("receipt", d.Receipt).Warn("dropping malformed request")
		return w.ack(ctx, d)
	}
	if msg.Kind != KindHashRequest {
		w.log.WithFields(logrus.Fields{"key": msg.Key, "kind": msg.Kind}).Warn("dropping unexpected message kind")
		return w.ack(ctx, d)
	}

	log := w.log.WithField("key", msg.Key)

	var result Message
	hash, err := w.hasher.ComputeHash(msg.Payload)
	if err != nil {
		log.WithError(err).Warn("failed to hash payload")
		result = msg.FailedResult(err)
	} else {
		result = msg.Result(hash)
	}

	if err := w.transport.Send(ctx, result); err != nil {
		return transportError("send", msg.Key, err)
	}
	log.WithField("hash", result.Hash).Debug("sent hash result")
	return w.ack(ctx, d)
}

func (w *Worker) ack(ctx context.Context, d *Delivery) error {
	if err := w.transport.Ack(ctx, d); err != nil {
		return transportError("ack", "", err)
	}
	return nil
}

package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by Receive and Send after Close.
var ErrClosed = errors.New("transport closed")

// Delivery is a received message that must be acknowledged once handled.
// Unacknowledged deliveries are redelivered.
type Delivery struct {
	Receipt string
	Kind    Kind
	Body    []byte
	// Attempt counts deliveries of the same message, starting at 1.
	Attempt int
}

// Message decodes the delivery body.
func (d *Delivery) Message() (Message, error) {
	return Decode(d.Body)
}

// Transport moves encoded messages between nodes with at-least-once
// delivery. Receive blocks until a message of the kind is available.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Receive(ctx context.Context, kind Kind) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Close() error
}

// TransportError reports a failed interaction with the transport.
type TransportError struct {
	Op  string
	Key string
	Err error
}

func (e *TransportError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportError(op, key string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Key: key, Err: err}
}

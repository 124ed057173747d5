// Package jobs distributes hash computation between coordinators and remote
// workers over a durable, at-least-once transport. Idempotency rests on the
// pending table of the shared store, keyed by the normalized file path.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

// Kind distinguishes requests from results.
type Kind string

const (
	KindHashRequest Kind = "HASH_REQUEST"
	KindHashResult  Kind = "HASH_RESULT"
)

func (k Kind) valid() bool {
	return k == KindHashRequest || k == KindHashResult
}

// ErrMalformed is returned by Decode for messages that cannot be processed.
var ErrMalformed = errors.New("malformed message")

// Message is the envelope exchanged over a Transport.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Key       string    `json:"key"`
	Path      string    `json:"path,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}

// NewRequest builds a HASH_REQUEST for the image at path.
func NewRequest(path string, payload []byte, signature string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindHashRequest,
		Key:       Key(path),
		Path:      path,
		Payload:   payload,
		Signature: signature,
		SentAt:    time.Now().UTC(),
	}
}

// Result answers a request with the computed hash.
func (m Message) Result(hash uint64) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindHashResult,
		Key:       m.Key,
		Path:      m.Path,
		Hash:      fingerprint.FormatHash(hash),
		Signature: m.Signature,
		SentAt:    time.Now().UTC(),
	}
}

// FailedResult answers a request whose payload could not be hashed.
func (m Message) FailedResult(err error) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      KindHashResult,
		Key:       m.Key,
		Path:      m.Path,
		Signature: m.Signature,
		Error:     err.Error(),
		SentAt:    time.Now().UTC(),
	}
}

// Failed reports whether a result carries an error instead of a hash.
func (m Message) Failed() bool {
	return m.Error != ""
}

// HashValue parses the hex hash of a result.
func (m Message) HashValue() (uint64, error) {
	return fingerprint.ParseHash(m.Hash)
}

// Validate checks the fields required by the message kind.
func (m Message) Validate() error {
	if !m.Kind.valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, m.Kind)
	}
	if m.Key == "" {
		return fmt.Errorf("%w: empty key", ErrMalformed)
	}
	switch m.Kind {
	case KindHashRequest:
		if len(m.Payload) == 0 {
			return fmt.Errorf("%w: request %s has no payload", ErrMalformed, m.Key)
		}
	case KindHashResult:
		if m.Failed() {
			return nil
		}
		if _, err := m.HashValue(); err != nil {
			return fmt.Errorf("%w: result %s: %v", ErrMalformed, m.Key, err)
		}
	}
	return nil
}

// Encode serializes m as JSON.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a message. Errors wrap ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

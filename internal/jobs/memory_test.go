package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransportAck(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTransport(4, 0)
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, NewRequest("/a", []byte{1}, "")))
	assert.Equal(t, 1, tr.Len(KindHashRequest))
	assert.Zero(t, tr.Len(KindHashResult))

	d, err := tr.Receive(ctx, KindHashRequest)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 1, tr.InFlight(KindHashRequest))

	msg, err := d.Message()
	require.NoError(t, err)
	assert.Equal(t, "/a", msg.Key)

	require.NoError(t, tr.Ack(ctx, d))
	assert.Zero(t, tr.InFlight(KindHashRequest))
	require.NoError(t, tr.Ack(ctx, d), "second ack is a no-op")
}

func TestMemoryTransportRedelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr := NewMemoryTransport(4, 20*time.Millisecond)
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, NewRequest("/a", []byte{1}, "")))

	first, err := tr.Receive(ctx, KindHashRequest)
	require.NoError(t, err)

	second, err := tr.Receive(ctx, KindHashRequest)
	require.NoError(t, err)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 2, second.Attempt)
	assert.NotEqual(t, first.Receipt, second.Receipt)
}

func TestMemoryTransportBlocksWhenFull(t *testing.T) {
	tr := NewMemoryTransport(1, 0)
	defer tr.Close()

	require.NoError(t, tr.Send(context.Background(), NewRequest("/a", []byte{1}, "")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, NewRequest("/b", []byte{1}, ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryTransportClose(t *testing.T) {
	tr := NewMemoryTransport(1, 0)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.Receive(context.Background(), KindHashResult)
	assert.True(t, errors.Is(err, ErrClosed))

	err = tr.Send(context.Background(), NewRequest("/a", []byte{1}, ""))
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

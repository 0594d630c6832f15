package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ccextract/internal/queue"
)

func newTestClient(t *testing.T, mr *miniredis.Miniredis, consumer string) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Addr:         mr.Addr(),
		Queue:        "batches",
		ConsumerID:   consumer,
		BlockTimeout: 50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPublishReceiveAckIsFIFO(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c := newTestClient(t, mr, "w1")
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, []byte("first")))
	require.NoError(t, c.Publish(ctx, []byte("second")))

	d, err := c.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", string(d.Body))

	pending, err := mr.List("batches:processing:w1")
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, pending)

	require.NoError(t, d.Ack())
	require.False(t, mr.Exists("batches:processing:w1"))

	d, err = c.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", string(d.Body))
}

func TestNackRequeuePutsMessageNext(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c := newTestClient(t, mr, "w1")
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, []byte("a")))
	require.NoError(t, c.Publish(ctx, []byte("b")))

	d, err := c.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(true))

	d, err = c.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", string(d.Body))
	require.NoError(t, d.Nack(false))

	d, err = c.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", string(d.Body))
}

func TestReceiveHonoursCancellation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c := newTestClient(t, mr, "w1")

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecoverPending(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	c := newTestClient(t, mr, "w1")
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, []byte("orphan")))
	_, err := c.Receive(ctx)
	require.NoError(t, err)

	moved, err := c.RecoverPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)

	d, err := c.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "orphan", string(d.Body))
}

func TestNewRequiresReachableServer(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = New(context.Background(), Config{Addr: addr}, nil)
	require.ErrorIs(t, err, queue.ErrConnection)
}

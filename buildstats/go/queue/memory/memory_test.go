package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.buildstats.org/infra/buildstats/go/queue"
)

func receive(t *testing.T, ch <-chan queue.Delivery) queue.Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a delivery.")
		return queue.Delivery{}
	}
}

func TestEnqueueThenStart_DeliversMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "job-1", Locator: "/tmp/log"}))

	ch, err := q.Start(ctx)
	require.NoError(t, err)
	d := receive(t, ch)
	require.Equal(t, "job-1", d.Message.JobID)
	require.Equal(t, "/tmp/log", d.Message.Locator)
	d.Ack()
}

func TestStart_CalledTwice_ReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	_, err := q.Start(ctx)
	require.NoError(t, err)
	_, err = q.Start(ctx)
	require.Error(t, err)
}

func TestNack_RedeliversUpToCap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "flaky"}))
	ch, err := q.Start(ctx)
	require.NoError(t, err)

	for i := 0; i < maxDeliveries; i++ {
		d := receive(t, ch)
		require.Equal(t, "flaky", d.Message.JobID)
		d.Nack()
	}

	// The deliveries are used up; nothing further arrives.
	select {
	case d := <-ch:
		t.Fatalf("Unexpected delivery of %q.", d.Message.JobID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAck_DoesNotRedeliver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	require.NoError(t, q.Enqueue(ctx, queue.Message{JobID: "done"}))
	ch, err := q.Start(ctx)
	require.NoError(t, err)

	receive(t, ch).Ack()
	select {
	case d := <-ch:
		t.Fatalf("Unexpected delivery of %q.", d.Message.JobID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStart_ContextCancelled_ClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New()
	ch, err := q.Start(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the channel to close.")
	}
}

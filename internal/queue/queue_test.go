package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	q := NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := []Message{
		{SessionID: "s1", Kind: "session_state_changed", At: time.Now().UTC(), State: "open"},
		{SessionID: "s1", Kind: "signature_added", At: time.Now().UTC()},
		{SessionID: "s2", Kind: "session_state_changed", At: time.Now().UTC(), State: "validated"},
	}
	for _, msg := range sent {
		require.NoError(t, q.Publish(ctx, msg))
	}

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	for _, want := range sent {
		select {
		case got := <-out:
			require.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestInMemoryPublishBlocksUntilCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, Message{SessionID: "s1"}))

	done := make(chan error, 1)
	go func() {
		done <- q.Publish(ctx, Message{SessionID: "s2"})
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("publish did not unblock on cancel")
	}
}

func TestInMemoryConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	out, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-out:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consume channel not closed on cancel")
	}
}

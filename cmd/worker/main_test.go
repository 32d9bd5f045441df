package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"emargement/internal/attendance"
	"emargement/internal/queue"
)

// keyedSink mimics the session_audit table's keyed insert: the first append
// per id wins, replays are no-ops.
type keyedSink struct {
	mu      sync.Mutex
	rows    map[string]attendance.AuditEntry
	appends int
}

func newKeyedSink() *keyedSink {
	return &keyedSink{rows: make(map[string]attendance.AuditEntry)}
}

func (s *keyedSink) AppendAudit(ctx context.Context, e attendance.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if _, ok := s.rows[e.ID]; !ok {
		s.rows[e.ID] = e
	}
	return nil
}

func (s *keyedSink) snapshot() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends, len(s.rows)
}

func TestDrainRedeliveredMessageKeepsOneRow(t *testing.T) {
	q := queue.NewInMemory(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := queue.Message{
		ID:        "evt-1",
		SessionID: "sess-1",
		Kind:      "session_state_changed",
		At:        time.Now().UTC(),
		State:     "open",
	}
	require.NoError(t, q.Publish(ctx, msg))
	require.NoError(t, q.Publish(ctx, msg)) // redelivery of the same event

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	sink := newKeyedSink()
	done := make(chan struct{})
	go func() {
		drain(ctx, messages, sink)
		close(done)
	}()

	require.Eventually(t, func() bool {
		appends, _ := sink.snapshot()
		return appends == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop after cancel")
	}

	appends, rows := sink.snapshot()
	require.Equal(t, 2, appends)
	require.Equal(t, 1, rows)

	stored := sink.rows["evt-1"]
	require.Equal(t, "sess-1", stored.SessionID)
	require.Equal(t, "open", stored.State)
}

func TestDrainPreservesProducerID(t *testing.T) {
	q := queue.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, queue.Message{ID: "evt-a", SessionID: "s1", Kind: "signature_added", At: time.Now().UTC()}))
	require.NoError(t, q.Publish(ctx, queue.Message{ID: "evt-b", SessionID: "s1", Kind: "session_state_changed", At: time.Now().UTC()}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	sink := newKeyedSink()
	done := make(chan struct{})
	go func() {
		drain(ctx, messages, sink)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, rows := sink.snapshot()
		return rows == 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.Contains(t, sink.rows, "evt-a")
	require.Contains(t, sink.rows, "evt-b")
}

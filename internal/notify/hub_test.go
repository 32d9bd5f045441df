package notify

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"emargement/internal/attendance"
)

func evt(sessionID string, kind attendance.EventKind) attendance.Event {
	return attendance.Event{SessionID: sessionID, Kind: kind, At: time.Now().UTC()}
}

func receive(t *testing.T, ch <-chan attendance.Event) attendance.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return attendance.Event{}
	}
}

func TestHubFanout(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop()

	_, ch1 := hub.Subscribe("sess-1")
	_, ch2 := hub.Subscribe("sess-1")
	_, other := hub.Subscribe("sess-2")

	hub.Publish(evt("sess-1", attendance.EventSignatureAdded))

	require.Equal(t, "sess-1", receive(t, ch1).SessionID)
	require.Equal(t, "sess-1", receive(t, ch2).SessionID)

	select {
	case e := <-other:
		t.Fatalf("subscriber of another session received %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop()

	id, ch := hub.Subscribe("sess-1")
	hub.Unsubscribe("sess-1", id)

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after unsubscribe must not panic or block.
	hub.Publish(evt("sess-1", attendance.EventSessionStateChanged))
}

func TestHubSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(prometheus.NewRegistry())
	defer hub.Stop()

	_, ch := hub.Subscribe("sess-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			hub.Publish(evt("sess-1", attendance.EventSignatureAdded))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffer's worth of events is still deliverable in order; the
	// overflow is dropped and counted, not delivered late.
	for i := 0; i < subscriberBuffer; i++ {
		receive(t, ch)
	}
	dropped := testutil.ToFloat64(hub.dropped.WithLabelValues(string(attendance.EventSignatureAdded)))
	require.Equal(t, float64(10), dropped)
}

func TestHubStopClosesAll(t *testing.T) {
	hub := NewHub(nil)
	_, ch1 := hub.Subscribe("sess-1")
	_, ch2 := hub.Subscribe("sess-2")

	hub.Stop()

	_, ok := <-ch1
	require.False(t, ok)
	_, ok = <-ch2
	require.False(t, ok)
}

func TestHubPerSessionFIFO(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Stop()

	_, ch := hub.Subscribe("sess-1")
	kinds := []attendance.EventKind{
		attendance.EventSignatureAdded,
		attendance.EventSignatureAdded,
		attendance.EventSessionStateChanged,
	}
	for _, k := range kinds {
		hub.Publish(evt("sess-1", k))
	}
	for _, k := range kinds {
		require.Equal(t, k, receive(t, ch).Kind)
	}
}

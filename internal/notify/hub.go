package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"emargement/internal/attendance"
)

// subscriber channel buffer; a full buffer drops the event for that
// subscriber only. Consumers re-read authoritative state on every event, so
// a dropped delta is recovered by the next one.
const subscriberBuffer = 16

// SubscriberID identifies one subscription for Unsubscribe.
type SubscriberID int

// Hub fans session change events out to all current subscribers of a
// session. Delivery is best-effort: FIFO per session, but an event is
// dropped (and counted) for a subscriber whose buffer is full, and nothing
// is replayed to late subscribers. Consumers treat every event as a cue to
// re-read authoritative state, so a missed delta costs one refresh.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[SubscriberID]chan attendance.Event
	lastID SubscriberID

	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// NewHub creates a hub; reg may be nil to skip metrics.
func NewHub(reg prometheus.Registerer) *Hub {
	h := &Hub{subs: make(map[string]map[SubscriberID]chan attendance.Event)}
	if reg != nil {
		h.published = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emargement_events_published_total",
			Help: "Session events published by kind.",
		}, []string{"kind"})
		h.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emargement_events_dropped_total",
			Help: "Events dropped due to slow subscribers.",
		}, []string{"kind"})
		reg.MustRegister(h.published, h.dropped)
	}
	return h
}

// Subscribe starts receiving events for one session. The channel is closed
// by Unsubscribe or Stop.
func (h *Hub) Subscribe(sessionID string) (SubscriberID, <-chan attendance.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan attendance.Event, subscriberBuffer)
	h.lastID++
	id := h.lastID
	if _, ok := h.subs[sessionID]; !ok {
		h.subs[sessionID] = make(map[SubscriberID]chan attendance.Event)
	}
	h.subs[sessionID][id] = ch
	return id, ch
}

// Unsubscribe stops delivery for one subscription and closes its channel.
func (h *Hub) Unsubscribe(sessionID string, id SubscriberID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessSubs, ok := h.subs[sessionID]
	if !ok {
		return
	}
	ch, ok := sessSubs[id]
	if !ok {
		return
	}
	delete(sessSubs, id)
	if len(sessSubs) == 0 {
		delete(h.subs, sessionID)
	}
	close(ch)
}

// Publish broadcasts an event to every subscriber of its session without
// blocking the caller.
func (h *Hub) Publish(evt attendance.Event) {
	h.mu.Lock()
	sessSubs := h.subs[evt.SessionID]
	chans := make([]chan attendance.Event, 0, len(sessSubs))
	for _, ch := range sessSubs {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			if h.dropped != nil {
				h.dropped.WithLabelValues(string(evt.Kind)).Inc()
			}
		}
	}
	if h.published != nil {
		h.published.WithLabelValues(string(evt.Kind)).Inc()
	}
}

// Stop closes every subscriber channel and clears the registry.
func (h *Hub) Stop() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[SubscriberID]chan attendance.Event)
	h.mu.Unlock()
	for _, sessSubs := range subs {
		for _, ch := range sessSubs {
			close(ch)
		}
	}
}

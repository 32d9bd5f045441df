package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"emargement/internal/attendance"
)

// RedisBridge relays events between API instances over a redis pub/sub
// channel, so a dashboard attached to any instance sees every session. It
// wraps the local hub: Publish delivers locally first, then broadcasts.
type RedisBridge struct {
	client     *redis.Client
	hub        *Hub
	channel    string
	instanceID string
}

type envelope struct {
	Origin string           `json:"origin"`
	Event  attendance.Event `json:"event"`
}

// NewRedisBridge creates a bridge over the given channel.
func NewRedisBridge(client *redis.Client, hub *Hub, channel string) *RedisBridge {
	if channel == "" {
		channel = "emargement:events"
	}
	return &RedisBridge{
		client:     client,
		hub:        hub,
		channel:    channel,
		instanceID: uuid.NewString(),
	}
}

// Publish delivers locally and broadcasts to the other instances.
// Broadcast failures are logged, not surfaced: the local delivery already
// happened and remote consumers recover by re-reading state.
func (b *RedisBridge) Publish(evt attendance.Event) {
	b.hub.Publish(evt)
	payload, err := json.Marshal(envelope{Origin: b.instanceID, Event: evt})
	if err != nil {
		log.Printf("event marshal failed: %v", err)
		return
	}
	if err := b.client.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		log.Printf("event broadcast failed: %v", err)
	}
}

// Run feeds remote events into the local hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("event decode failed: %v", err)
				continue
			}
			if env.Origin == b.instanceID {
				continue // already delivered locally
			}
			b.hub.Publish(env.Event)
		}
	}
}

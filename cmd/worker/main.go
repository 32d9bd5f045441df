package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"emargement/internal/attendance"
	"emargement/internal/config"
	"emargement/internal/queue"
	"emargement/internal/store"
)

type auditSink interface {
	AppendAudit(ctx context.Context, e attendance.AuditEntry) error
}

// Worker drains the session event queue into the durable audit trail.
// Producers may publish the same event more than once; inserts are keyed by
// the producer-assigned message id, so replays are no-ops.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema init failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "emargement:audit")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for messages...")
	drain(ctx, messages, attendance.NewRepository(db.Client))
	log.Println("audit worker stopped")
}

// drain appends one audit row per message until the channel closes. The
// message id carries through as the row key; a message without one gets a
// fresh key at insert and loses replay protection.
func drain(ctx context.Context, messages <-chan queue.Message, sink auditSink) {
	for msg := range messages {
		entry := attendance.AuditEntry{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Kind:      msg.Kind,
			At:        msg.At,
			State:     msg.State,
		}
		if err := sink.AppendAudit(ctx, entry); err != nil {
			log.Printf("audit append failed for session %s: %v", msg.SessionID, err)
		}
	}
}

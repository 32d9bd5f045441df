package validation

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// CredentialStore holds the per-admin enrolled signature image. One row per
// admin; re-enrolling replaces it.
type CredentialStore interface {
	Get(ctx context.Context, adminID string) ([]byte, error)
	Put(ctx context.Context, adminID string, blob []byte) error
}

// PGCredentials stores credentials in Postgres.
type PGCredentials struct {
	db *sql.DB
}

// NewPGCredentials creates a store over the admin_signatures table.
func NewPGCredentials(db *sql.DB) *PGCredentials {
	return &PGCredentials{db: db}
}

// Get returns the stored signature image, or nil when none is enrolled.
func (s *PGCredentials) Get(ctx context.Context, adminID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM admin_signatures WHERE admin_id = $1
	`, adminID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// Put stores or replaces the signature image.
func (s *PGCredentials) Put(ctx context.Context, adminID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_signatures (admin_id, blob, enrolled_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (admin_id) DO UPDATE SET
			blob = EXCLUDED.blob,
			enrolled_at = EXCLUDED.enrolled_at
	`, adminID, blob, time.Now().UTC())
	return err
}

// MemCredentials is the in-memory store for dev and tests.
type MemCredentials struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemCredentials creates an empty in-memory credential store.
func NewMemCredentials() *MemCredentials {
	return &MemCredentials{blobs: make(map[string][]byte)}
}

// Get returns the stored signature image, or nil when none is enrolled.
func (s *MemCredentials) Get(ctx context.Context, adminID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.blobs[adminID]...), nil
}

// Put stores or replaces the signature image.
func (s *MemCredentials) Put(ctx context.Context, adminID string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[adminID] = append([]byte(nil), blob...)
	return nil
}

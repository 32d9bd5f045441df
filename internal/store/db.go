package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection pool. Session mutations run short
// row-locking transactions, so the pool stays small.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return nil, err
	}
	return &DB{Client: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// EnsureSchema creates the engine's tables when they do not exist yet.
// Idempotent; meant for dev and small deployments without a migration tool.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS attendance_sessions (
			id               TEXT PRIMARY KEY,
			course_id        TEXT NOT NULL,
			module_id        TEXT,
			scheduled_date   TIMESTAMPTZ NOT NULL,
			start_time       TEXT NOT NULL DEFAULT '',
			end_time         TEXT NOT NULL DEFAULT '',
			room             TEXT,
			instructor_id    TEXT NOT NULL,
			state            TEXT NOT NULL,
			token_code       TEXT,
			token_qr         TEXT,
			token_issued_at  TIMESTAMPTZ,
			token_expires_at TIMESTAMPTZ,
			opened_at        TIMESTAMPTZ,
			closed_at        TIMESTAMPTZ,
			submitted_at     TIMESTAMPTZ,
			validated_at     TIMESTAMPTZ,
			validated_by     TEXT,
			created_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_course_state
			ON attendance_sessions (course_id, state)`,
		`CREATE TABLE IF NOT EXISTS signatures (
			id             TEXT PRIMARY KEY,
			session_id     TEXT NOT NULL REFERENCES attendance_sessions (id),
			participant_id TEXT NOT NULL,
			role           TEXT NOT NULL,
			present        BOOLEAN NOT NULL,
			absence_reason TEXT,
			signed_at      TIMESTAMPTZ NOT NULL,
			blob           BYTEA,
			image_url      TEXT,
			UNIQUE (session_id, participant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS roster_snapshots (
			session_id     TEXT NOT NULL REFERENCES attendance_sessions (id),
			participant_id TEXT NOT NULL,
			PRIMARY KEY (session_id, participant_id)
		)`,
		`CREATE TABLE IF NOT EXISTS admin_signatures (
			admin_id    TEXT PRIMARY KEY,
			blob        BYTEA NOT NULL,
			enrolled_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_audit (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			at         TIMESTAMPTZ NOT NULL,
			state      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_audit_session
			ON session_audit (session_id, at)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

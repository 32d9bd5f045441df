package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the Postgres Store. Every Mutate runs in a transaction that
// locks the session row with SELECT ... FOR UPDATE, so preconditions
// evaluated by the closure still hold when the writes land.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new scheduled session.
func (r *Repository) Create(ctx context.Context, s Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_sessions
			(id, course_id, module_id, scheduled_date, start_time, end_time, room, instructor_id, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.CourseID, nullStr(s.ModuleID), s.ScheduledDate, s.StartTime, s.EndTime,
		nullStr(s.Room), s.InstructorID, string(s.State), s.CreatedAt)
	return err
}

// Get loads the full session aggregate without locking.
func (r *Repository) Get(ctx context.Context, id string) (*Aggregate, error) {
	return r.load(ctx, r.db, id, false)
}

// List returns sessions with basic filters, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Session, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := sessionCols + ` FROM attendance_sessions`
	args := []any{}
	clauses := []string{}
	if f.CourseID != "" {
		clauses = append(clauses, "course_id = $"+itoa(len(args)+1))
		args = append(args, f.CourseID)
	}
	if f.State != "" {
		clauses = append(clauses, "state = $"+itoa(len(args)+1))
		args = append(args, string(f.State))
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinClauses(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT $" + itoa(len(args)+1) + " OFFSET $" + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Mutate runs fn inside a transaction holding the session row lock, then
// writes back the session and any dirty signatures and roster entries.
func (r *Repository) Mutate(ctx context.Context, id string, fn func(*Aggregate) error) (*Aggregate, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	agg, err := r.load(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err := fn(agg); err != nil {
		return nil, err
	}

	if err := r.writeSession(ctx, tx, agg.Session); err != nil {
		return nil, err
	}
	for _, sig := range agg.DirtySignatures() {
		if err := r.upsertSignature(ctx, tx, sig); err != nil {
			return nil, err
		}
	}
	if agg.RosterWritten() {
		for _, pid := range agg.Roster() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO roster_snapshots (session_id, participant_id)
				VALUES ($1, $2)
				ON CONFLICT (session_id, participant_id) DO NOTHING
			`, id, pid); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	agg.dirtySigs = nil
	agg.rosterSet = false
	return agg, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const sessionCols = `SELECT id, course_id, module_id, scheduled_date, start_time, end_time, room,
	instructor_id, state, token_code, token_qr, token_issued_at, token_expires_at,
	opened_at, closed_at, submitted_at, validated_at, validated_by, created_at`

func (r *Repository) load(ctx context.Context, q querier, id string, lock bool) (*Aggregate, error) {
	query := sessionCols + ` FROM attendance_sessions WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	s, err := scanSession(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, session_id, participant_id, role, present, absence_reason, signed_at, blob, image_url
		FROM signatures WHERE session_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sigs []Signature
	for rows.Next() {
		var sig Signature
		var reason, imageURL sql.NullString
		if err := rows.Scan(&sig.ID, &sig.SessionID, &sig.ParticipantID, &sig.Role,
			&sig.Present, &reason, &sig.SignedAt, &sig.Blob, &imageURL); err != nil {
			return nil, err
		}
		sig.AbsenceReason = reason.String
		sig.ImageURL = imageURL.String
		sigs = append(sigs, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rrows, err := q.QueryContext(ctx, `
		SELECT participant_id FROM roster_snapshots WHERE session_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()
	var roster []string
	for rrows.Next() {
		var pid string
		if err := rrows.Scan(&pid); err != nil {
			return nil, err
		}
		roster = append(roster, pid)
	}
	if err := rrows.Err(); err != nil {
		return nil, err
	}

	return NewAggregate(s, sigs, roster), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var moduleID, room, validatedBy sql.NullString
	var tokCode, tokQR sql.NullString
	var tokIssued, tokExpires, openedAt, closedAt, submittedAt, validatedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.CourseID, &moduleID, &s.ScheduledDate, &s.StartTime, &s.EndTime,
		&room, &s.InstructorID, &s.State, &tokCode, &tokQR, &tokIssued, &tokExpires,
		&openedAt, &closedAt, &submittedAt, &validatedAt, &validatedBy, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	s.ModuleID = moduleID.String
	s.Room = room.String
	s.ValidatedBy = validatedBy.String
	if tokCode.Valid {
		s.Token = &Token{
			Code:      tokCode.String,
			QRPayload: tokQR.String,
			IssuedAt:  tokIssued.Time,
			ExpiresAt: tokExpires.Time,
		}
	}
	s.OpenedAt = nullTimePtr(openedAt)
	s.ClosedAt = nullTimePtr(closedAt)
	s.SubmittedAt = nullTimePtr(submittedAt)
	s.ValidatedAt = nullTimePtr(validatedAt)
	return s, nil
}

func (r *Repository) writeSession(ctx context.Context, q querier, s Session) error {
	var tokCode, tokQR any
	var tokIssued, tokExpires any
	if s.Token != nil {
		tokCode, tokQR = s.Token.Code, s.Token.QRPayload
		tokIssued, tokExpires = s.Token.IssuedAt, s.Token.ExpiresAt
	}
	_, err := q.ExecContext(ctx, `
		UPDATE attendance_sessions SET
			state = $2, token_code = $3, token_qr = $4,
			token_issued_at = $5, token_expires_at = $6,
			opened_at = $7, closed_at = $8, submitted_at = $9,
			validated_at = $10, validated_by = $11
		WHERE id = $1
	`, s.ID, string(s.State), tokCode, tokQR, tokIssued, tokExpires,
		s.OpenedAt, s.ClosedAt, s.SubmittedAt, s.ValidatedAt, nullStr(s.ValidatedBy))
	return err
}

func (r *Repository) upsertSignature(ctx context.Context, q querier, sig Signature) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO signatures (id, session_id, participant_id, role, present, absence_reason, signed_at, blob, image_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id, participant_id) DO UPDATE SET
			role = EXCLUDED.role,
			present = EXCLUDED.present,
			absence_reason = EXCLUDED.absence_reason,
			signed_at = EXCLUDED.signed_at,
			blob = EXCLUDED.blob,
			image_url = EXCLUDED.image_url
	`, sig.ID, sig.SessionID, sig.ParticipantID, string(sig.Role), sig.Present,
		nullStr(sig.AbsenceReason), sig.SignedAt, sig.Blob, nullStr(sig.ImageURL))
	return err
}

// AuditEntry is one durable record of an engine action, written by the
// worker from the event queue.
type AuditEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	At        time.Time `json:"at"`
	State     string    `json:"state"`
}

// AppendAudit writes one audit row.
func (r *Repository) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_audit (id, session_id, kind, at, state)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.SessionID, e.Kind, e.At, nullStr(e.State))
	return err
}

// ListAudit returns the audit trail for a session, oldest first.
func (r *Repository) ListAudit(ctx context.Context, sessionID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, kind, at, state
		FROM session_audit WHERE session_id = $1
		ORDER BY at ASC LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var state sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Kind, &e.At, &state); err != nil {
			return nil, err
		}
		e.State = state.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }

func joinClauses(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for i := 1; i < len(parts); i++ {
		out += sep + parts[i]
	}
	return out
}

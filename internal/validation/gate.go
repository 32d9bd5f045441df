package validation

import (
	"context"
	"errors"

	"emargement/internal/attendance"
)

// ErrNoStoredSignature is returned when an admin validates without
// re-signing but never enrolled a signature credential.
var ErrNoStoredSignature = errors.New("no stored administrator signature")

// Gate is the administration-side final step: it checks that a session is
// awaiting validation, picks the signature image to attach, and delegates
// the terminal transition to the session machine.
type Gate struct {
	svc   *attendance.Service
	creds CredentialStore
}

// NewGate wires the gate to the machine and the credential store.
func NewGate(svc *attendance.Service, creds CredentialStore) *Gate {
	return &Gate{svc: svc, creds: creds}
}

// CanValidate reports whether a session is ready for administration.
func (g *Gate) CanValidate(s attendance.Session) bool {
	return s.State == attendance.StatePendingValidation
}

// Validate finalizes a session. With reSign set, blob is the freshly drawn
// administrator signature; otherwise the admin's one-time-enrolled
// credential is attached instead. Either way the attach and the terminal
// transition land atomically in the machine.
func (g *Gate) Validate(ctx context.Context, sessionID string, actor attendance.Actor, reSign bool, blob []byte) (attendance.Session, error) {
	if !reSign {
		stored, err := g.creds.Get(ctx, actor.ID)
		if err != nil {
			return attendance.Session{}, err
		}
		if len(stored) == 0 {
			return attendance.Session{}, ErrNoStoredSignature
		}
		blob = stored
	}
	return g.svc.Validate(ctx, sessionID, actor, blob)
}

// Enroll stores the admin's reusable signature credential.
func (g *Gate) Enroll(ctx context.Context, adminID string, blob []byte) error {
	if len(blob) == 0 {
		return errors.New("signature image required")
	}
	return g.creds.Put(ctx, adminID, blob)
}

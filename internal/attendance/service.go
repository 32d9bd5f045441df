package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"emargement/internal/roster"
)

// Service owns the session lifecycle: the legal transition set, the token
// protocol, and the signature-completeness rules. Every mutation runs as a
// single atomic read-modify-write through the Store so concurrent actors
// cannot act on stale preconditions.
type Service struct {
	store   Store
	roster  roster.Resolver
	tokens  *TokenService
	pub     Publisher
	metrics *Metrics
	now     func() time.Time
}

// NewService wires the session machine to its collaborators. pub and m may
// be nil.
func NewService(store Store, resolver roster.Resolver, tokens *TokenService, pub Publisher, m *Metrics) *Service {
	if tokens == nil {
		tokens = NewTokenService(DefaultTokenTTL)
	}
	return &Service{
		store:   store,
		roster:  resolver,
		tokens:  tokens,
		pub:     pub,
		metrics: m,
		now:     time.Now,
	}
}

// CreateInput describes a session to schedule.
type CreateInput struct {
	CourseID      string
	ModuleID      string
	ScheduledDate time.Time
	StartTime     string
	EndTime       string
	Room          string
}

// Create schedules a new session owned by the calling instructor.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (Session, error) {
	if actor.Role != RoleInstructor {
		return Session{}, ErrForbidden
	}
	if in.CourseID == "" {
		return Session{}, errors.New("course id required")
	}
	sess := Session{
		ID:            uuid.NewString(),
		CourseID:      in.CourseID,
		ModuleID:      in.ModuleID,
		ScheduledDate: in.ScheduledDate,
		StartTime:     in.StartTime,
		EndTime:       in.EndTime,
		Room:          in.Room,
		InstructorID:  actor.ID,
		State:         StateScheduled,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Open moves a scheduled session to Open: freezes the roster snapshot,
// issues the first check-in token, and stamps openedAt. The roster is
// resolved before the atomic mutation so a slow directory call never holds
// the session row; the Scheduled precondition is re-checked inside it.
func (s *Service) Open(ctx context.Context, sessionID string, actor Actor) (Session, error) {
	agg, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := authorize(actionOpen, actor, &agg.Session); err != nil {
		return Session{}, err
	}
	if err := openGuard(agg.Session.State); err != nil {
		return Session{}, err
	}

	ids, err := s.roster.ExpectedParticipants(ctx, agg.Session.CourseID)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrRosterUnavailable, err)
	}

	out, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := openGuard(a.Session.State); err != nil {
			return err
		}
		tok, err := s.tokens.Issue(sessionID)
		if err != nil {
			return err
		}
		a.SetRoster(ids)
		a.Session.Token = &tok
		a.Session.State = StateOpen
		a.Session.OpenedAt = touch(s.now())
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.metrics.transition(StateOpen)
	s.publish(sessionID, EventSessionStateChanged)
	return out.Session, nil
}

func openGuard(st State) error {
	switch {
	case st == StateScheduled:
		return nil
	case st == StateOpen:
		return ErrAlreadyOpen
	case st.Terminal():
		return ErrSessionFinalized
	default:
		return ErrInvalidTransition
	}
}

// CheckInResult is the outcome of a successful (or idempotently repeated)
// student check-in.
type CheckInResult struct {
	Signature Signature
	Session   Session
	Already   bool
}

// CheckIn records a student's presence against the current token. Repeating
// an identical check-in returns the stored signature without error; the
// token is never consumed by validation, only by rotation or leaving Open.
func (s *Service) CheckIn(ctx context.Context, sessionID string, actor Actor, code string, blob []byte, imageURL string) (CheckInResult, error) {
	var res CheckInResult
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionCheckIn, actor, &a.Session); err != nil {
			return err
		}
		if a.Session.State.Terminal() {
			return ErrSessionFinalized
		}
		if a.Session.State != StateOpen {
			return ErrSessionNotOpen
		}
		if !a.onRoster(actor.ID) {
			return ErrNotOnRoster
		}
		// Token check and signature write share this atomic unit, so a
		// concurrent rotation always wins over a code in flight.
		if err := s.tokens.Check(a.Session.Token, code); err != nil {
			return err
		}

		if prev, ok := a.Signature(actor.ID); ok {
			res.Already = prev.Present
			sig := prev
			if !prev.Present {
				// Marked absent earlier; a valid check-in flips the record
				// to present while the session is still open.
				sig.Present = true
				sig.AbsenceReason = ""
				sig.SignedAt = s.now().UTC()
			}
			if len(blob) > 0 {
				sig.Blob = blob
			}
			if imageURL != "" {
				sig.ImageURL = imageURL
			}
			res.Signature = sig
			if res.Already && len(blob) == 0 && imageURL == "" {
				return nil // identical repeat, nothing to write
			}
			a.PutSignature(sig)
			s.advance(a)
			return nil
		}

		sig := Signature{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: actor.ID,
			Role:          RoleStudent,
			Present:       true,
			SignedAt:      s.now().UTC(),
			Blob:          blob,
			ImageURL:      imageURL,
		}
		a.PutSignature(sig)
		res.Signature = sig
		s.advance(a)
		return nil
	})
	if err != nil {
		s.metrics.checkin(checkinLabel(err))
		return CheckInResult{}, err
	}
	if res.Already {
		s.metrics.checkin("already_signed")
	} else {
		s.metrics.checkin("ok")
	}
	res.Session = agg.Session
	s.publish(sessionID, EventSignatureAdded)
	if res.Session.State != StateOpen {
		s.metrics.transition(res.Session.State)
		s.publish(sessionID, EventSessionStateChanged)
	}
	return res, nil
}

// MarkAbsence records an explicit absence for a roster member, entered by
// the instructor. An absence counts toward completeness.
func (s *Service) MarkAbsence(ctx context.Context, sessionID string, actor Actor, participantID, reason string) (Signature, Session, error) {
	var out Signature
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionMarkAbsence, actor, &a.Session); err != nil {
			return err
		}
		if a.Session.State.Terminal() {
			return ErrSessionFinalized
		}
		if a.Session.State != StateOpen {
			return ErrSessionNotOpen
		}
		if !a.onRoster(participantID) {
			return ErrNotOnRoster
		}
		sig := Signature{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: participantID,
			Role:          RoleStudent,
			Present:       false,
			AbsenceReason: reason,
			SignedAt:      s.now().UTC(),
		}
		if prev, ok := a.Signature(participantID); ok {
			sig.ID = prev.ID // update in place, never a second row
		}
		a.PutSignature(sig)
		out = sig
		s.advance(a)
		return nil
	})
	if err != nil {
		return Signature{}, Session{}, err
	}
	s.publish(sessionID, EventSignatureAdded)
	if agg.Session.State != StateOpen {
		s.metrics.transition(agg.Session.State)
		s.publish(sessionID, EventSessionStateChanged)
	}
	return out, agg.Session, nil
}

// SignInstructor records the instructor's signature. Permitted while Open
// (instructor may sign before the students finish) or while awaiting the
// instructor; completeness is re-evaluated either way.
func (s *Service) SignInstructor(ctx context.Context, sessionID string, actor Actor, blob []byte, imageURL string) (Session, error) {
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionSignInstructor, actor, &a.Session); err != nil {
			return err
		}
		if a.Session.State.Terminal() {
			return ErrSessionFinalized
		}
		if a.Session.State != StateOpen && a.Session.State != StateAwaitingInstructor {
			return ErrSessionNotOpen
		}
		sig := Signature{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			ParticipantID: actor.ID,
			Role:          RoleInstructor,
			Present:       true,
			SignedAt:      s.now().UTC(),
			Blob:          blob,
			ImageURL:      imageURL,
		}
		if prev, ok := a.Signature(actor.ID); ok {
			sig.ID = prev.ID
		}
		a.PutSignature(sig)
		s.advance(a)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.publish(sessionID, EventSignatureAdded)
	if agg.Session.State != StateOpen {
		s.metrics.transition(agg.Session.State)
		s.publish(sessionID, EventSessionStateChanged)
	}
	return agg.Session, nil
}

// RotateToken replaces the current token immediately; any code in flight
// against the old token fails with Mismatch.
func (s *Service) RotateToken(ctx context.Context, sessionID string, actor Actor) (Session, error) {
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionRotate, actor, &a.Session); err != nil {
			return err
		}
		if a.Session.State.Terminal() {
			return ErrSessionFinalized
		}
		if a.Session.State != StateOpen {
			return ErrSessionNotOpen
		}
		tok, err := s.tokens.Issue(sessionID)
		if err != nil {
			return err
		}
		a.Session.Token = &tok
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.publish(sessionID, EventSessionStateChanged)
	return agg.Session, nil
}

// SubmitToAdmin hands a fully signed session to administration. Only the
// owning instructor may submit, and only once the submit-enabled predicate
// holds (reported as ReadyForSubmission).
func (s *Service) SubmitToAdmin(ctx context.Context, sessionID string, actor Actor) (Session, error) {
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionSubmit, actor, &a.Session); err != nil {
			return err
		}
		switch a.Session.State {
		case StateReadyForSubmission:
		case StateOpen, StateAwaitingInstructor:
			return ErrIncompleteSignatures
		case StateValidated, StateCancelled:
			return ErrSessionFinalized
		default:
			return ErrInvalidTransition
		}
		now := s.now()
		a.Session.ClosedAt = touch(now)
		a.Session.SubmittedAt = touch(now)
		a.Session.State = StatePendingValidation
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.metrics.transition(StatePendingValidation)
	s.publish(sessionID, EventSessionStateChanged)
	return agg.Session, nil
}

// Validate is administration's terminal confirmation. An optional
// administrator signature is attached in the same atomic unit. Afterward
// every mutation attempt reports SessionFinalized.
func (s *Service) Validate(ctx context.Context, sessionID string, actor Actor, blob []byte) (Session, error) {
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionValidate, actor, &a.Session); err != nil {
			return err
		}
		switch a.Session.State {
		case StatePendingValidation:
		case StateValidated, StateCancelled:
			return ErrSessionFinalized
		default:
			return ErrInvalidTransition
		}
		if len(blob) > 0 {
			sig := Signature{
				ID:            uuid.NewString(),
				SessionID:     sessionID,
				ParticipantID: actor.ID,
				Role:          RoleAdmin,
				Present:       true,
				SignedAt:      s.now().UTC(),
				Blob:          blob,
			}
			if prev, ok := a.Signature(actor.ID); ok {
				sig.ID = prev.ID
			}
			a.PutSignature(sig)
		}
		a.Session.ValidatedAt = touch(s.now())
		a.Session.ValidatedBy = actor.ID
		a.Session.State = StateValidated
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.metrics.transition(StateValidated)
	s.publish(sessionID, EventSessionStateChanged)
	return agg.Session, nil
}

// Cancel aborts a session that has not reached administration. Terminal.
func (s *Service) Cancel(ctx context.Context, sessionID string, actor Actor) (Session, error) {
	agg, err := s.store.Mutate(ctx, sessionID, func(a *Aggregate) error {
		if err := authorize(actionCancel, actor, &a.Session); err != nil {
			return err
		}
		if a.Session.State.Terminal() {
			return ErrSessionFinalized
		}
		if !a.Session.State.canTransitionTo(StateCancelled) {
			return ErrInvalidTransition
		}
		a.Session.Token = nil
		a.Session.ClosedAt = touch(s.now())
		a.Session.State = StateCancelled
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	s.metrics.transition(StateCancelled)
	s.publish(sessionID, EventSessionStateChanged)
	return agg.Session, nil
}

// Get returns a session with its completeness progress.
func (s *Service) Get(ctx context.Context, sessionID string) (Session, Progress, error) {
	agg, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, Progress{}, err
	}
	return agg.Session, agg.Progress(), nil
}

// List returns sessions matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Session, error) {
	return s.store.List(ctx, f)
}

// advance runs the automatic evaluate-and-transition step after a signature
// write. It is idempotent and safe to run redundantly; the completeness
// threshold is crossed exactly once because it runs inside the same atomic
// unit as the write that may cross it. Leaving Open clears the token so a
// code cannot be replayed after close.
func (s *Service) advance(a *Aggregate) {
	for {
		switch a.Session.State {
		case StateOpen:
			if !a.AllStudentsAccountedFor() {
				return
			}
			a.Session.Token = nil
			a.Session.State = StateAwaitingInstructor
		case StateAwaitingInstructor:
			if !a.InstructorSigned() {
				return
			}
			a.Session.State = StateReadyForSubmission
		default:
			return
		}
	}
}

func (s *Service) publish(sessionID string, kind EventKind) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(Event{SessionID: sessionID, Kind: kind, At: s.now().UTC()})
}

func checkinLabel(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMismatch):
		return "mismatch"
	case errors.Is(err, ErrNoActiveToken):
		return "no_active_token"
	case errors.Is(err, ErrSessionNotOpen), errors.Is(err, ErrSessionFinalized):
		return "session_not_open"
	case errors.Is(err, ErrNotOnRoster), errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

package attendance

import (
	"time"
)

// State is the lifecycle state of an attendance session.
type State string

const (
	StateScheduled           State = "scheduled"
	StateOpen                State = "open"
	StateAwaitingInstructor  State = "awaiting_instructor_signature"
	StateReadyForSubmission  State = "ready_for_submission"
	StatePendingValidation   State = "pending_validation"
	StateValidated           State = "validated"
	StateCancelled           State = "cancelled"
)

// Valid returns true when the state is a supported value.
func (s State) Valid() bool {
	switch s {
	case StateScheduled, StateOpen, StateAwaitingInstructor, StateReadyForSubmission,
		StatePendingValidation, StateValidated, StateCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that admit no further mutation.
func (s State) Terminal() bool {
	return s == StateValidated || s == StateCancelled
}

// transitions is the only legal edge set; anything else is InvalidTransition.
var transitions = map[State][]State{
	StateScheduled:          {StateOpen, StateCancelled},
	StateOpen:               {StateAwaitingInstructor, StateReadyForSubmission, StateCancelled},
	StateAwaitingInstructor: {StateReadyForSubmission, StateCancelled},
	StateReadyForSubmission: {StatePendingValidation},
	StatePendingValidation:  {StateValidated},
}

func (s State) canTransitionTo(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Role identifies what kind of actor holds a signature slot.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid returns true when the role is a supported value.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Actor is the authenticated identity behind a request.
type Actor struct {
	ID   string
	Role Role
}

// Token is the rotating check-in credential bound to one open session.
// Rotation wins over a code in flight because the whole token lives on the
// session row and Check runs inside the same atomic unit that rotation
// writes through.
type Token struct {
	Code      string    `json:"code"`
	QRPayload string    `json:"qr_payload"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is one scheduled class occurrence for which attendance is tracked.
// Token is non-nil iff State == StateOpen.
type Session struct {
	ID            string     `json:"id"`
	CourseID      string     `json:"course_id"`
	ModuleID      string     `json:"module_id,omitempty"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	StartTime     string     `json:"start_time"`
	EndTime       string     `json:"end_time"`
	Room          string     `json:"room,omitempty"`
	InstructorID  string     `json:"instructor_id"`
	State         State      `json:"state"`
	Token         *Token     `json:"token,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	ValidatedBy   string     `json:"validated_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Signature is a per-participant record of presence or explicit absence.
// At most one exists per (SessionID, ParticipantID); repeats update in place.
type Signature struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Role          Role      `json:"role"`
	Present       bool      `json:"present"`
	AbsenceReason string    `json:"absence_reason,omitempty"`
	SignedAt      time.Time `json:"signed_at"`
	Blob          []byte    `json:"-"`
	ImageURL      string    `json:"image_url,omitempty"`
}

// Progress summarizes signature completeness for a session.
type Progress struct {
	StudentsSigned   int  `json:"students_signed"`
	StudentsExpected int  `json:"students_expected"`
	InstructorSigned bool `json:"instructor_signed"`
	SubmitEnabled    bool `json:"submit_enabled"`
}

// EventKind tags a realtime change notification.
type EventKind string

const (
	EventSignatureAdded      EventKind = "signature_added"
	EventSessionStateChanged EventKind = "session_state_changed"
)

// Event is the delta broadcast to dashboards after a successful mutation.
// Consumers treat it as a cue to re-read authoritative state, not as truth.
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	At        time.Time `json:"at"`
}

// Publisher fans change events out to interested observers.
type Publisher interface {
	Publish(Event)
}

package attendance

import (
	"context"
	"time"
)

// Aggregate is the full state of one session loaded for a mutation: the
// session row, its signatures keyed by participant, and the frozen roster.
// Mutation closures edit Session directly and record signature and roster
// writes through PutSignature/SetRoster so stores know what to persist.
type Aggregate struct {
	Session Session

	sigs      map[string]Signature
	roster    []string
	dirtySigs []string
	rosterSet bool
}

// NewAggregate builds an aggregate around a session (used by stores).
func NewAggregate(s Session, sigs []Signature, roster []string) *Aggregate {
	a := &Aggregate{Session: s, sigs: make(map[string]Signature, len(sigs)), roster: roster}
	for _, sig := range sigs {
		a.sigs[sig.ParticipantID] = sig
	}
	return a
}

// Signature returns the stored signature for a participant, if any.
func (a *Aggregate) Signature(participantID string) (Signature, bool) {
	s, ok := a.sigs[participantID]
	return s, ok
}

// Signatures returns all signatures for the session.
func (a *Aggregate) Signatures() []Signature {
	out := make([]Signature, 0, len(a.sigs))
	for _, s := range a.sigs {
		out = append(out, s)
	}
	return out
}

// PutSignature upserts a signature and marks it for persistence.
func (a *Aggregate) PutSignature(s Signature) {
	if a.sigs == nil {
		a.sigs = make(map[string]Signature)
	}
	a.sigs[s.ParticipantID] = s
	for _, id := range a.dirtySigs {
		if id == s.ParticipantID {
			return
		}
	}
	a.dirtySigs = append(a.dirtySigs, s.ParticipantID)
}

// Roster returns the frozen participant set captured at open.
func (a *Aggregate) Roster() []string {
	return a.roster
}

// SetRoster freezes the expected participant set. Called exactly once, at
// the open transition; later enrollment changes never reach the aggregate.
func (a *Aggregate) SetRoster(ids []string) {
	a.roster = append([]string(nil), ids...)
	a.rosterSet = true
}

// DirtySignatures returns the signatures written during the current
// mutation, for stores to persist.
func (a *Aggregate) DirtySignatures() []Signature {
	out := make([]Signature, 0, len(a.dirtySigs))
	for _, id := range a.dirtySigs {
		out = append(out, a.sigs[id])
	}
	return out
}

// RosterWritten reports whether SetRoster ran during the current mutation.
func (a *Aggregate) RosterWritten() bool { return a.rosterSet }

func (a *Aggregate) clone() *Aggregate {
	c := &Aggregate{
		Session: a.Session,
		sigs:    make(map[string]Signature, len(a.sigs)),
		roster:  append([]string(nil), a.roster...),
	}
	if a.Session.Token != nil {
		tok := *a.Session.Token
		c.Session.Token = &tok
	}
	for k, v := range a.sigs {
		v.Blob = append([]byte(nil), v.Blob...)
		c.sigs[k] = v
	}
	return c
}

// ListFilter narrows List results.
type ListFilter struct {
	CourseID string
	State    State
	Limit    int
	Offset   int
}

// Store is the transactional backing store for sessions. Mutate runs fn
// against the aggregate as a single atomic read-modify-write: preconditions
// checked inside fn hold when the write lands. Returning an error from fn
// discards every change.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (*Aggregate, error)
	List(ctx context.Context, f ListFilter) ([]Session, error)
	Mutate(ctx context.Context, id string, fn func(*Aggregate) error) (*Aggregate, error)
}

// touch returns a UTC timestamp pointer for the monotone timestamp chain.
func touch(now time.Time) *time.Time {
	t := now.UTC()
	return &t
}

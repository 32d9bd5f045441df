package attendance

// Signature-completeness queries over a loaded aggregate. These are pure
// reads; callers run them inside the same Mutate closure as the write that
// triggered them so the answer cannot go stale.

// AllStudentsAccountedFor is true iff every roster id has a signature entry,
// present or explicitly absent. Absence is accounted-for, not a blocker.
func (a *Aggregate) AllStudentsAccountedFor() bool {
	if len(a.roster) == 0 {
		return false
	}
	for _, id := range a.roster {
		if _, ok := a.sigs[id]; !ok {
			return false
		}
	}
	return true
}

// InstructorSigned is true once the session's instructor holds a signature.
func (a *Aggregate) InstructorSigned() bool {
	s, ok := a.sigs[a.Session.InstructorID]
	return ok && s.Role == RoleInstructor
}

// SubmitEnabled is the single order-independent predicate gating submission:
// all students accounted for and the instructor has signed, regardless of
// which landed first.
func (a *Aggregate) SubmitEnabled() bool {
	return a.AllStudentsAccountedFor() && a.InstructorSigned()
}

// Progress reports signed/expected counts for dashboards. Expected for the
// instructor slot is always one.
func (a *Aggregate) Progress() Progress {
	p := Progress{
		StudentsExpected: len(a.roster),
		InstructorSigned: a.InstructorSigned(),
		SubmitEnabled:    a.SubmitEnabled(),
	}
	for _, id := range a.roster {
		if _, ok := a.sigs[id]; ok {
			p.StudentsSigned++
		}
	}
	return p
}

// onRoster reports whether a participant belongs to the frozen roster.
func (a *Aggregate) onRoster(participantID string) bool {
	for _, id := range a.roster {
		if id == participantID {
			return true
		}
	}
	return false
}

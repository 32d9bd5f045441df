package attendance

// action enumerates the operations subject to authorization. Every service
// method consults authorize exactly once; callers never re-implement role
// checks.
type action int

const (
	actionOpen action = iota
	actionRotate
	actionCheckIn
	actionMarkAbsence
	actionSignInstructor
	actionSubmit
	actionValidate
	actionCancel
)

// authorize decides whether an actor may perform an action on a session.
func authorize(act action, actor Actor, s *Session) error {
	switch act {
	case actionOpen, actionRotate, actionSignInstructor, actionSubmit, actionMarkAbsence:
		if actor.Role != RoleInstructor || actor.ID != s.InstructorID {
			return ErrForbidden
		}
	case actionCheckIn:
		if actor.Role != RoleStudent {
			return ErrForbidden
		}
	case actionValidate:
		if actor.Role != RoleAdmin {
			return ErrForbidden
		}
	case actionCancel:
		if actor.Role == RoleAdmin {
			return nil
		}
		if actor.Role != RoleInstructor || actor.ID != s.InstructorID {
			return ErrForbidden
		}
	default:
		return ErrForbidden
	}
	return nil
}

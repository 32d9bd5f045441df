package attendance

import "errors"

// Expected, recoverable-by-caller outcomes. The engine returns these as
// typed results; only backing-store failures pass through unwrapped.
var (
	ErrNotFound             = errors.New("session not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrAlreadyOpen          = errors.New("session already open")
	ErrSessionNotOpen       = errors.New("session not open")
	ErrForbidden            = errors.New("forbidden")
	ErrExpired              = errors.New("token expired")
	ErrMismatch             = errors.New("token mismatch")
	ErrNoActiveToken        = errors.New("no active token")
	ErrIncompleteSignatures = errors.New("incomplete signatures")
	ErrSessionFinalized     = errors.New("session finalized")
	ErrRosterUnavailable    = errors.New("roster unavailable")
	ErrNotOnRoster          = errors.New("participant not on roster")
)

// CheckinRefused reports whether err must surface to students as the
// generic "check-in refused" message. Expired and Mismatch are merged so
// callers cannot probe whether a code was once valid; the distinction is
// kept internally in metrics.
func CheckinRefused(err error) bool {
	return errors.Is(err, ErrExpired) || errors.Is(err, ErrMismatch) ||
		errors.Is(err, ErrNoActiveToken)
}

package model

import "errors"

// Sentinel error kinds shared by every layer. Callers test with errors.Is.
var (
	// ErrNotFound reports an unknown hunt, lane or invitation reference.
	ErrNotFound = errors.New("not found")
	// ErrInvalidOperation reports a structural edit that the start state forbids.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrHuntNotStarted reports a scan submitted before the organizer started the hunt.
	ErrHuntNotStarted = errors.New("hunt not started")
	// ErrAlreadyComplete reports a scan submitted to a lane that reached victory.
	ErrAlreadyComplete = errors.New("lane already complete")
	// ErrConflict reports a lost compare-and-swap on a lane's progression.
	ErrConflict = errors.New("progression conflict")
	// ErrTimeout reports a repository call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidInput reports malformed arguments (empty names, bad counts).
	ErrInvalidInput = errors.New("invalid input")
)

// IsDomain reports whether err belongs to the taxonomy above. Anything else
// coming out of a backend is treated as transient.
func IsDomain(err error) bool {
	for _, kind := range []error{
		ErrNotFound, ErrInvalidOperation, ErrHuntNotStarted,
		ErrAlreadyComplete, ErrConflict, ErrTimeout, ErrInvalidInput,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

package pairing

import "errors"

// These errors cover failures local to one pairing session; none of them
// is accompanied by persisted state, and each is scoped to that attempt.
var (
	ErrDeclined      = errors.New("pairing: declined by a participant")
	ErrTimeout       = errors.New("pairing: timed out")
	ErrCodeMismatch  = errors.New("pairing: verification code mismatch")
	ErrGuardExhausted = errors.New("pairing: too many concurrent pairing attempts")
	ErrProtocol      = errors.New("pairing: unexpected message or state")
)

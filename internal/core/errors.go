package core

import (
	"errors"
	"fmt"
)

// User-facing error taxonomy. Messages stay short and never carry internal
// diagnostic detail; the audit log gets the full story.
var (
	// ErrInvalidCredentials is returned on a failed credential check and is
	// also counted as a failed attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired means the caller should re-prompt authentication.
	ErrSessionExpired = errors.New("session expired")

	// ErrStepUpRequired means the action needs a fresh proof of identity.
	// Recoverable by supplying one, not fatal.
	ErrStepUpRequired = errors.New("re-authentication required")
)

// LockoutError rejects a login while the identity's failure window is hot.
// It is user-facing and self-heals once the window passes.
type LockoutError struct {
	MinutesRemaining int
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account temporarily locked, try again in %d minutes", e.MinutesRemaining)
}

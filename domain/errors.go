package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when no user record matches a lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateIdentity is returned when a sign-up collides with an
	// existing (provider, external_uid) pair.
	ErrDuplicateIdentity = errors.New("an account already exists for this uid")
	// ErrTokenConflict is returned when a token-set mutation keeps losing
	// the optimistic-concurrency race.
	ErrTokenConflict = errors.New("concurrent token update conflict")

	// ErrSessionNotFound is returned when the user or device slot behind the
	// presented credentials does not exist (including evicted slots).
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid is returned when the presented token does not match
	// the stored digest.
	ErrSessionInvalid = errors.New("session token is invalid")
	// ErrSessionExpired is returned when the device token is past its expiry.
	ErrSessionExpired = errors.New("session token has expired")
)

// IsSessionError reports whether err is a credential resolution failure, as
// opposed to a store or infrastructure failure that must not be presented to
// the client as an authentication problem.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionInvalid) ||
		errors.Is(err, ErrSessionExpired)
}

// AuthError is a structured verification failure: the status code to report
// to the client plus a short message. Provider-reported failures carry the
// provider's status and error description.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%d): %s", e.Code, e.Message)
}

package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmailTaken: duplicate email on registration (soft-deleted rows count).
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials covers both wrong password and unknown email, so
	// responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrValidation is rejected input, raised before any store is touched.
	ErrValidation = errors.New("email and password are required")
	// ErrUserNotFound: referenced account absent (non-auth paths only).
	ErrUserNotFound = errors.New("user not found")
	// ErrSignalementNotFound: referenced record absent.
	ErrSignalementNotFound = errors.New("signalement not found")
	// ErrConnectivity: neither the remote provider nor the local store could
	// serve the operation.
	ErrConnectivity = errors.New("no store reachable")
)

// LockedError is returned while a lockout is active; it carries the expiry so
// callers can tell the user when to come back.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

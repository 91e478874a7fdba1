// Package auth holds the bearer credential and the identity it belongs to.
package auth

import "time"

// State represents the state of the stored credential.
type State int

const (
	// StateMissing means no credential is stored.
	StateMissing State = iota
	// StateAuthenticated means a usable credential is stored.
	StateAuthenticated
	// StateExpired means the stored credential passed its expiry and was dropped.
	StateExpired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return "missing"
	}
}

// Status describes the stored credential.
type Status struct {
	State     State
	Summary   string    // Brief one-line summary
	ExpiresAt time.Time // Zero when the token carries no expiry
}

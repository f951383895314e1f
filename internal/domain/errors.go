package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the engine. Callers match with errors.Is.
var (
	// ErrInvalidState is returned when an operation is not allowed in the session's state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInsufficientBalance is returned when the payer cannot cover a deposit.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientEscrow is returned when escrow cannot cover a billed message.
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	// ErrConcurrencyConflict is returned when exclusive access to a session was lost.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvariantViolation indicates corrupted money state. It is never retried.
	ErrInvariantViolation = errors.New("invariant violation")

	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExists       = errors.New("session already exists")
	ErrNotParticipant      = errors.New("user is not a session participant")
	ErrInvalidParticipants = errors.New("invalid participants")
	ErrInvalidRoles        = errors.New("invalid monetization roles")
)

func newInvalidRoles(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRoles, msg)
}

// InvariantError describes which money invariant was broken and where.
type InvariantError struct {
	Op        string
	SessionID string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in %s for session %s: %s", e.Op, e.SessionID, e.Detail)
}

// Unwrap lets errors.Is match ErrInvariantViolation.
func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

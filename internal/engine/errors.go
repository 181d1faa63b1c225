package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the parent market id is unknown.
	ErrNotFound = errors.New("market not found")
	// ErrPaused is returned for write operations while the engine is paused.
	ErrPaused = errors.New("engine paused")
)

// ValidationError rejects a malformed request (bad side, stake out of range).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StateError rejects an operation that is illegal in the market's current
// lifecycle state (wager outside the betting window, settlement before the
// round ended). The request is never coerced into a closest legal action.
type StateError struct {
	Status Status
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s: %s", e.Status, e.Reason)
}

// LockExpiredError rejects confirmation of an odds lock past its TTL.
type LockExpiredError struct {
	LockID string
}

func (e *LockExpiredError) Error() string { return "odds lock expired: " + e.LockID }

// ConflictingOutcomeError is fatal: the oracle boundary supplied two
// different outcomes for the same market. The first result stays untouched.
type ConflictingOutcomeError struct {
	ParentID string
	Settled  Outcome
	Offered  Outcome
}

func (e *ConflictingOutcomeError) Error() string {
	return fmt.Sprintf("conflicting outcome for %s: settled with %+v, offered %+v",
		e.ParentID, e.Settled, e.Offered)
}

// PrecisionError signals arithmetic that would overflow or divide by zero;
// amounts are never silently truncated past the tolerated rounding residue.
type PrecisionError struct {
	Op string
}

func (e *PrecisionError) Error() string { return "precision: " + e.Op }

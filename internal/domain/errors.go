package domain

import (
	"errors"
	"fmt"
)

// ErrEventNotFound is returned when an action event id is unknown
var ErrEventNotFound = errors.New("action event not found")

// ErrOverrideNotFound is returned when an override id is not in the current snapshot
var ErrOverrideNotFound = errors.New("override not found")

// ErrMinerRunNotFound is returned when a miner run id is unknown
var ErrMinerRunNotFound = errors.New("miner run not found")

// ErrInsufficientSample marks a scope subset that failed the sample gate.
// It never leaves the miner; callers drop the subset.
var ErrInsufficientSample = errors.New("insufficient sample")

// ErrMinerBusy is returned when a miner run is requested while another is in flight
var ErrMinerBusy = errors.New("miner run already in progress")

// ValidationError rejects malformed input at write time
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError with a formatted reason
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AlreadyResolvedError rejects a second outcome write for the same event
type AlreadyResolvedError struct {
	EventID string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("action event %s already resolved", e.EventID)
}

// MinerRunFailure is the batch-level failure of one miner run.
// The prior override snapshot is untouched when this is returned.
type MinerRunFailure struct {
	RunID string
	Stage string
	Err   error
}

func (e *MinerRunFailure) Error() string {
	return fmt.Sprintf("miner run %s failed during %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *MinerRunFailure) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAlreadyResolved reports whether err is (or wraps) an AlreadyResolvedError
func IsAlreadyResolved(err error) bool {
	var ae *AlreadyResolvedError
	return errors.As(err, &ae)
}

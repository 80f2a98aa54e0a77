package model

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ValidationError.
var (
	ErrInvalidRange   = errors.New("invalid range")
	ErrNonFinite      = errors.New("non-finite value")
	ErrUnsorted       = errors.New("timestamps not strictly increasing")
	ErrLengthMismatch = errors.New("length mismatch")
	ErrInvalidParam   = errors.New("invalid parameter")
)

// ErrNotFound is returned by stores when a key has no entry.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input rejected before any computation.
// Series and Field name what was wrong so callers can render a message.
type ValidationError struct {
	Series string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "invalid " + e.Field
	if e.Series != "" {
		msg += " for " + e.Series
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidParam builds a ValidationError for a bad scalar parameter.
func InvalidParam(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: ErrInvalidParam}
}

// InsufficientDataError reports a series shorter than an operation needs.
type InsufficientDataError struct {
	Op   string
	Need int
	Have int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: need %d bars, have %d", e.Op, e.Need, e.Have)
}

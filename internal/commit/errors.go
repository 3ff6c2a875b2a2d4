package commit

import (
	"errors"
	"fmt"
)

// FailureType categorizes commit failures.
type FailureType string

const (
	// TypeConstraint indicates content that violates a validation rule.
	TypeConstraint FailureType = "Constraint"

	// TypeAccess indicates a change the committer is not allowed to make.
	TypeAccess FailureType = "Access"

	// TypeMerge indicates a change that could not be merged with concurrent changes.
	TypeMerge FailureType = "Merge"

	// TypeState indicates an internal state problem.
	TypeState FailureType = "State"
)

// FailedError reports a rejected commit with a human-readable message and a
// type/code pair identifying the rule that failed.
type FailedError struct {
	// Type identifies the error category.
	Type FailureType

	// Code identifies the specific rule within the category.
	Code int

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// NewFailedError creates a commit failure.
func NewFailedError(typ FailureType, code int, message string, cause error) *FailedError {
	return &FailedError{Type: typ, Code: code, Message: message, Cause: cause}
}

// Error implements the error interface, e.g. "Constraint0001: missing title".
func (e *FailedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ID(), e.Message)
}

// ID returns the type and zero-padded code, e.g. "Constraint0001".
func (e *FailedError) ID() string {
	return fmt.Sprintf("%s%04d", e.Type, e.Code)
}

// Unwrap returns the cause.
func (e *FailedError) Unwrap() error {
	return e.Cause
}

// IsFailed reports whether err is or wraps a FailedError of the given type.
// An empty type matches any commit failure.
func IsFailed(err error, typ FailureType) bool {
	var fe *FailedError
	if !errors.As(err, &fe) {
		return false
	}
	return typ == "" || fe.Type == typ
}

// internal/errs/errs.go

// Package errs holds the error kinds shared by the engine's components.
// Callers classify failures with errors.Is and errors.As.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation references an id with no entity.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a state change is not allowed from
	// the entity's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyExists is returned when a caller-supplied id is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError reports malformed input. Nothing is mutated when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

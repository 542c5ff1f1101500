package budget

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("budget: invalid request")
	// ErrVersionConflict is returned by Storage.Save when another writer
	// committed first.
	ErrVersionConflict = errors.New("budget: version conflict")
	// ErrUnknownMandate is returned for mandates that were never registered.
	ErrUnknownMandate = errors.New("budget: unknown mandate")
)

// ValidationError is a malformed evaluation input. It is a caller defect,
// never a denial.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("budget: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable means no query can run against the registry store.
	ErrStoreUnavailable = errors.New("registry store unavailable")

	// ErrMergeConflict means a group member changed (or was merged elsewhere)
	// before the merge transaction could lock it.
	ErrMergeConflict = errors.New("merge conflict")
)

// ValidationError reports a malformed input record.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Package common defines shared constants and sentinel errors used across
// client and server layers of GophDrop. Callers should use errors.Is to
// match these values and errors.As for the typed errors.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound          = errors.New("not found")
	ErrArtifactRefConflict = errors.New("final artifact reference already in use")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorValidation    = errors.New("validation error")
	ErrForbidden       = errors.New("forbidden")
	ErrArtifactMissing = errors.New("artifact missing from storage")

	// Session lifecycle errors.
	ErrIncompleteUpload = errors.New("incomplete upload")
	ErrAlreadyCompleted = errors.New("session already completed")
	ErrMergeInProgress  = errors.New("merge in progress")
	ErrUploadInProgress = errors.New("chunk upload in progress")
	ErrSessionFailed    = errors.New("session failed")
	ErrChunkOutOfRange  = errors.New("chunk index out of range")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrorValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrorValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrorValidation }

// NewValidationError is a shorthand for &ValidationError{...}.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IncompleteUploadError is returned by a merge that found chunk MissingIndex
// absent from staging.
type IncompleteUploadError struct {
	MissingIndex int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("%s: missing chunk %d", ErrIncompleteUpload, e.MissingIndex)
}

func (e *IncompleteUploadError) Unwrap() error { return ErrIncompleteUpload }

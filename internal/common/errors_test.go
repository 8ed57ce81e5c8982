package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("create: %w", NewValidationError("fileName", "is required"))

	assert.True(t, errors.Is(err, ErrorValidation))
	assert.False(t, errors.Is(err, ErrorNotFound))

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "fileName", ve.Field)
	assert.Equal(t, "validation error: fileName is required", ve.Error())
}

func TestValidationError_NoField(t *testing.T) {
	err := &ValidationError{Reason: "empty body"}
	assert.Equal(t, "validation error: empty body", err.Error())
}

func TestIncompleteUploadError(t *testing.T) {
	err := fmt.Errorf("merge: %w", &IncompleteUploadError{MissingIndex: 3})

	assert.True(t, errors.Is(err, ErrIncompleteUpload))

	var ie *IncompleteUploadError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 3, ie.MissingIndex)
	assert.Contains(t, err.Error(), "missing chunk 3")
}

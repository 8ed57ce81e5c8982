package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/gophdrop/internal/common"
)

var ErrUnavailable = errors.New("server unavailable")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode   int
	Code         string
	Message      string
	MissingIndex *int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match server outcomes against the common sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case common.ErrorNotFound:
		return e.StatusCode == http.StatusNotFound
	case common.ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case common.ErrorValidation:
		return e.StatusCode == http.StatusBadRequest
	case common.ErrIncompleteUpload:
		return e.Code == "incomplete_upload"
	case common.ErrAlreadyCompleted:
		return e.Code == "already_completed"
	case common.ErrMergeInProgress:
		return e.Code == "merge_in_progress"
	case common.ErrUploadInProgress:
		return e.Code == "upload_in_progress"
	case common.ErrSessionFailed:
		return e.Code == "session_failed"
	}
	return false
}

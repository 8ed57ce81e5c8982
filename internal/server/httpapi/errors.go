package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/gin-gonic/gin"
)

type apiError struct {
	status  int
	code    string
	message string
}

func classify(err error) apiError {
	var (
		ve  *common.ValidationError
		inc *common.IncompleteUploadError
	)
	switch {
	case errors.As(err, &ve):
		return apiError{http.StatusBadRequest, "validation", ve.Error()}
	case errors.Is(err, common.ErrChunkOutOfRange):
		return apiError{http.StatusBadRequest, "chunk_out_of_range", err.Error()}
	case errors.Is(err, common.ErrorNotFound):
		return apiError{http.StatusNotFound, "not_found", "File not found or upload is not complete."}
	case errors.Is(err, common.ErrForbidden):
		return apiError{http.StatusForbidden, "forbidden", "Invalid password."}
	case errors.As(err, &inc):
		return apiError{http.StatusConflict, "incomplete_upload", inc.Error()}
	case errors.Is(err, common.ErrAlreadyCompleted):
		return apiError{http.StatusConflict, "already_completed", "Upload is already completed."}
	case errors.Is(err, common.ErrMergeInProgress):
		return apiError{http.StatusConflict, "merge_in_progress", "Upload is being merged."}
	case errors.Is(err, common.ErrUploadInProgress):
		return apiError{http.StatusConflict, "upload_in_progress", "A chunk is still being uploaded."}
	case errors.Is(err, common.ErrSessionFailed):
		return apiError{http.StatusConflict, "session_failed", "Upload failed and cannot be resumed."}
	case errors.Is(err, common.ErrArtifactMissing):
		return apiError{http.StatusInternalServerError, "artifact_missing", "Stored file is unavailable."}
	default:
		return apiError{http.StatusInternalServerError, "internal", "Error processing file."}
	}
}

// writeError maps err onto a JSON error body. Internal errors are logged and
// replaced by a generic message.
func (h *Handler) writeError(c *gin.Context, err error) {
	e := classify(err)
	if e.status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "request failed", "route", c.FullPath(), "error", err)
	}
	body := gin.H{"error": e.code, "message": e.message}
	var inc *common.IncompleteUploadError
	if errors.As(err, &inc) {
		body["missingIndex"] = inc.MissingIndex
	}
	c.JSON(e.status, body)
}

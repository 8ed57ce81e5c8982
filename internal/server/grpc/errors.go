package grpc

import (
	"errors"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC status codes. Internal causes are not
// exposed to the caller.
func toStatus(err error) error {
	var (
		ve  *common.ValidationError
		inc *common.IncompleteUploadError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, common.ErrChunkOutOfRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, "invalid password")
	case errors.As(err, &inc):
		return status.Error(codes.FailedPrecondition, inc.Error())
	case errors.Is(err, common.ErrAlreadyCompleted), errors.Is(err, common.ErrSessionFailed):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrMergeInProgress), errors.Is(err, common.ErrUploadInProgress):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

package s3store

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
)

// mapError converts an S3 failure into the shared error kinds
func mapError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var noKey *s3types.NoSuchKey
	var notFoundErr *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFoundErr) {
		return notFound(path)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return notFound(path)
		case "NoSuchUpload":
			return fmt.Errorf("%s %s: %w", op, path, storage.ErrUploadNotFound)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %w", panerr.ErrAuth, panerr.NewRemoteAPIError(op, http.StatusForbidden, apiErr.ErrorMessage()))
		case "InvalidRange":
			return panerr.NewRemoteAPIError(op, http.StatusRequestedRangeNotSatisfiable, apiErr.ErrorMessage())
		}

		status := http.StatusBadRequest
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
		}
		if status >= 500 {
			return panerr.NewTransportError(op, err)
		}
		return panerr.NewRemoteAPIError(op, status, fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()))
	}

	return panerr.NewTransportError(op, err)
}

func notFound(path string) error {
	return panerr.NewNotFoundError(path)
}

func isNotFound(err error) bool {
	return panerr.IsNotFound(err)
}

func conflict(path, reason string) error {
	return panerr.NewConflictError(path, reason)
}

func remoteError(op string, code int, msg string) error {
	return panerr.NewRemoteAPIError(op, code, msg)
}

func transportError(op string, err error) error {
	return panerr.NewTransportError(op, err)
}

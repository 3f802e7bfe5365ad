package panfake

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
)

// errno values the server answers with
const (
	errnoInvalidParam  = 2
	errnoAuth          = -6
	errnoExists        = -8
	errnoNotFound      = -9
	errnoTokenInvalid  = 110
	errnoConflict      = 31061
	errnoPcsNotFound   = 31066
	errnoUploadMissing = 31363
	errnoInternal      = 31045
)

// errnoFor maps a storage error onto the wire
func errnoFor(err error) (int, string) {
	var apiErr *panerr.RemoteAPIError

	switch {
	case errors.Is(err, panerr.ErrAuth):
		return errnoAuth, err.Error()
	case errors.Is(err, panerr.ErrNotFound):
		return errnoNotFound, err.Error()
	case errors.Is(err, storage.ErrAlreadyExists):
		return errnoExists, err.Error()
	case errors.Is(err, panerr.ErrConflict):
		return errnoConflict, err.Error()
	case errors.Is(err, storage.ErrUploadNotFound):
		return errnoUploadMissing, err.Error()
	case errors.As(err, &apiErr):
		return apiErr.Errno, apiErr.Message
	default:
		return errnoInternal, err.Error()
	}
}

// abortXpan answers like the metadata API: HTTP 200 with a non-zero errno
func abortXpan(ctx *gin.Context, errno int, msg string) {
	ctx.AbortWithStatusJSON(http.StatusOK, gin.H{
		"errno":      errno,
		"errmsg":     msg,
		"request_id": requestID(ctx),
	})
}

// abortPcs answers like the content API: an HTTP error status with error_code
func abortPcs(ctx *gin.Context, status, code int, msg string) {
	ctx.AbortWithStatusJSON(status, gin.H{
		"error_code": code,
		"error_msg":  msg,
		"request_id": requestID(ctx),
	})
}

func (s *Server) xpanError(ctx *gin.Context, err error) {
	errno, msg := errnoFor(err)
	s.logger.Debug("xpan error", "method", ctx.Query("method"), "errno", errno, "error", err)
	abortXpan(ctx, errno, msg)
}

func (s *Server) pcsError(ctx *gin.Context, err error) {
	errno, msg := errnoFor(err)
	status := http.StatusBadRequest

	var apiErr *panerr.RemoteAPIError
	switch {
	case errors.Is(err, context.Canceled):
		status = 499
	case errors.Is(err, panerr.ErrAuth):
		status = http.StatusForbidden
	case errors.Is(err, panerr.ErrNotFound):
		status, errno = http.StatusNotFound, errnoPcsNotFound
	case errors.As(err, &apiErr) && apiErr.Errno == http.StatusRequestedRangeNotSatisfiable:
		status = http.StatusRequestedRangeNotSatisfiable
	case errno == errnoInternal:
		status = http.StatusInternalServerError
	}

	s.logger.Debug("pcs error", "method", ctx.Query("method"), "status", status, "errno", errno, "error", err)
	abortPcs(ctx, status, errno, msg)
}

func requestID(ctx *gin.Context) int64 {
	return ctx.GetInt64(keyRequestID)
}

package pansdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/imroc/req/v3"
)

var (
	ErrNoAccessToken = errors.New("sdk: access token missing")
	ErrNoServerURL   = errors.New("sdk: server url missing")
)

// errno values of the pan API
const (
	ErrnoOK              = 0
	ErrnoAccessDenied    = -6
	ErrnoAlreadyExists   = -8
	ErrnoNotFound        = -9
	ErrnoTokenExpired    = 111
	ErrnoTokenInvalid    = 110
	ErrnoPcsFileNotFound = 31066
)

// pcsError is the body of a failed content API call
type pcsError struct {
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
	Errno     int    `json:"errno"`
	ErrMsg    string `json:"errmsg"`
}

func (e *pcsError) code() (int, string) {
	if e.ErrorCode != 0 {
		return e.ErrorCode, e.ErrorMsg
	}
	return e.Errno, e.ErrMsg
}

// errnoError maps an API status code to the shared error kinds
func errnoError(op, path string, errno int, msg string) error {
	apiErr := panerr.NewRemoteAPIError(op, errno, msg)
	switch errno {
	case ErrnoOK:
		return nil
	case ErrnoAccessDenied, ErrnoTokenExpired, ErrnoTokenInvalid:
		return fmt.Errorf("%w: %w", panerr.ErrAuth, apiErr)
	case ErrnoNotFound, ErrnoPcsFileNotFound:
		return fmt.Errorf("%s: %w", op, panerr.NewNotFoundError(path))
	case ErrnoAlreadyExists:
		return fmt.Errorf("%s %s: %w", op, path, storage.ErrAlreadyExists)
	default:
		return apiErr
	}
}

// handleAPIError turns a failed request or an HTTP error status into an error
func handleAPIError(resp *req.Response, requestErr error, op, path string) error {
	if requestErr != nil {
		if errors.Is(requestErr, context.Canceled) || errors.Is(requestErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, requestErr)
		}
		return panerr.NewTransportError(op, requestErr)
	}

	if !resp.IsErrorState() {
		return nil
	}

	if e, ok := resp.ErrorResult().(*pcsError); ok {
		if errno, msg := e.code(); errno != 0 {
			return errnoError(op, path, errno, msg)
		}
	}
	return statusError(op, path, resp.StatusCode, resp.String())
}

// streamError reads the error body of a response that was not auto-read
func streamError(resp *req.Response, op, path string) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var e pcsError
	if err := jsonUnmarshal(body, &e); err == nil {
		if errno, msg := e.code(); errno != 0 {
			return errnoError(op, path, errno, msg)
		}
	}
	return statusError(op, path, resp.StatusCode, string(body))
}

func statusError(op, path string, status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", panerr.ErrAuth, panerr.NewRemoteAPIError(op, status, body))
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, panerr.NewNotFoundError(path))
	case status >= 500:
		return panerr.NewTransportError(op, fmt.Errorf("http %d: %s", status, body))
	default:
		return panerr.NewRemoteAPIError(op, status, body)
	}
}

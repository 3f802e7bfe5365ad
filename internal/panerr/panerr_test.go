package panerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", NewTransportError("list", errors.New("connection reset")), true},
		{"wrapped transport", fmt.Errorf("upload: %w", NewTransportError("part", errors.New("eof"))), true},
		{"api", NewRemoteAPIError("precreate", 31034, "hit frequency limit"), true},
		{"auth", fmt.Errorf("meta: %w", ErrAuth), false},
		{"auth inside api error chain", errors.Join(NewRemoteAPIError("list", -6, ""), ErrAuth), false},
		{"not found", NewNotFoundError("/a"), false},
		{"conflict", NewConflictError("/a", "is a directory"), false},
		{"io", NewIoError("open", "/tmp/x", os.ErrPermission), false},
		{"canceled", fmt.Errorf("list: %w", context.Canceled), false},
		{"plain", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestErrorKinds_Is(t *testing.T) {
	assert.ErrorIs(t, fmt.Errorf("meta: %w", NewNotFoundError("/x")), ErrNotFound)
	assert.True(t, IsNotFound(NewNotFoundError("/x")))
	assert.ErrorIs(t, NewConflictError("/x", "file exists"), ErrConflict)
	assert.ErrorIs(t, NewIoError("read", "/x", os.ErrNotExist), os.ErrNotExist)

	var apiErr *RemoteAPIError
	assert.ErrorAs(t, fmt.Errorf("create: %w", NewRemoteAPIError("create", -8, "exists")), &apiErr)
	assert.Equal(t, -8, apiErr.Errno)
}

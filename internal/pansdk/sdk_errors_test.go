package pansdk

import (
	"testing"

	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestErrnoError(t *testing.T) {
	assert.NoError(t, errnoError("list", "/", ErrnoOK, ""))
	assert.ErrorIs(t, errnoError("list", "/", ErrnoAccessDenied, "denied"), panerr.ErrAuth)
	assert.ErrorIs(t, errnoError("list", "/", ErrnoTokenExpired, ""), panerr.ErrAuth)
	assert.True(t, panerr.IsNotFound(errnoError("meta", "/x", ErrnoNotFound, "")))
	assert.True(t, panerr.IsNotFound(errnoError("download", "/x", ErrnoPcsFileNotFound, "")))
	assert.ErrorIs(t, errnoError("mkdir", "/x", ErrnoAlreadyExists, ""), storage.ErrAlreadyExists)

	err := errnoError("precreate", "/x", 31034, "hit frequency limit")
	var apiErr *panerr.RemoteAPIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 31034, apiErr.Errno)
	assert.True(t, panerr.IsRetryable(err))
}

func TestStatusError(t *testing.T) {
	assert.ErrorIs(t, statusError("op", "/x", 401, ""), panerr.ErrAuth)
	assert.True(t, panerr.IsNotFound(statusError("op", "/x", 404, "")))

	var transportErr *panerr.TransportError
	assert.ErrorAs(t, statusError("op", "/x", 502, "bad gateway"), &transportErr)
	assert.True(t, panerr.IsRetryable(statusError("op", "/x", 400, "")))
}

func TestParseContentRange(t *testing.T) {
	cases := []struct {
		in    string
		start int64
		total int64
		ok    bool
	}{
		{"bytes 10-19/20", 10, 20, true},
		{"bytes 0-0/*", 0, -1, true},
		{"bytes */20", 0, 0, false},
		{"items 1-2/3", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			start, total, ok := parseContentRange(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.start, start)
				assert.Equal(t, tc.total, total)
			}
		})
	}
}

func TestFileInfoEntry(t *testing.T) {
	f := FileInfo{Path: "/a/b", IsDir: 0, Size: 3, ServerMtime: 100, MD5: "m", FsID: 7}
	e := f.Entry()
	assert.Equal(t, int64(100), e.Mtime.Unix())
	assert.Equal(t, "b", e.Name())

	f.LocalMtime = 50
	assert.Equal(t, int64(50), f.Entry().Mtime.Unix())

	back := NewFileInfo(e)
	assert.Equal(t, "b", back.ServerFilename)
	assert.Equal(t, uint64(7), back.FsID)
}

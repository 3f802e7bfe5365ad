package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gobdpan/bdpan/internal/lister"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBlock = 16
	testPart  = 64
)

func setup(t *testing.T) (*Store, *fakeS3) {
	t.Helper()
	fake := newFakeS3(testPart)
	return New(fake, "bucket", "/pan/", WithPartSize(testPart)), fake
}

func writeFile(t *testing.T, fsys billy.Filesystem, name string, data []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, name, data, 0o644))
	require.NoError(t, fsys.(billy.Change).Chtimes(name, mtime, mtime))
}

func TestStore_Keys(t *testing.T) {
	s, _ := setup(t)
	assert.Equal(t, "pan/a/b.txt", s.key("/a/b.txt"))
	assert.Equal(t, "pan/a/", s.dirKey("/a"))
	assert.Equal(t, "pan/", s.dirKey("/"))
	assert.Equal(t, "/a/b", s.path("pan/a/b/"))
	assert.Equal(t, "/a/b.txt", s.path("pan/a/b.txt"))

	bare := New(newFakeS3(testPart), "bucket", "")
	assert.Equal(t, "a", bare.key("/a"))
	assert.Equal(t, "", bare.dirKey("/"))
}

func TestStore_MkdirMeta(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)

	require.NoError(t, s.Mkdir(ctx, "/a"))
	assert.ErrorIs(t, s.Mkdir(ctx, "/a"), storage.ErrAlreadyExists)
	assert.Contains(t, fake.keys(), "pan/a/")

	e, err := s.Meta(ctx, "/a")
	require.NoError(t, err)
	assert.True(t, e.IsDir)

	root, err := s.Meta(ctx, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir)

	_, err = s.Meta(ctx, "/missing")
	assert.True(t, panerr.IsNotFound(err))

	// implicit directory
	fake.put("pan/x/y/z.txt", []byte("z"), nil)
	e, err = s.Meta(ctx, "/x/y")
	require.NoError(t, err)
	assert.True(t, e.IsDir)

	assert.ErrorIs(t, s.Mkdir(ctx, "/x/y/z.txt"), panerr.ErrConflict)
}

func TestStore_UploadBuffersParts(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	fsys := memfs.New()
	eng := transfer.New(s, fsys, transfer.WithBlockSize(testBlock))

	data := bytes.Repeat([]byte("abcdefghij"), 20) // 200 bytes, 13 blocks
	mtime := time.Unix(1_700_000_000, 0)
	writeFile(t, fsys, "f.bin", data, mtime)

	res, err := eng.Upload(ctx, "/docs/f.bin", "f.bin", transfer.OverwriteNone, nil)
	require.NoError(t, err)
	assert.False(t, res.Rapid)
	assert.Equal(t, 13, res.Parts)

	// 64+64+64 flushed while uploading, 8 bytes flushed on finalize
	assert.Equal(t, 4, fake.count("UploadPart"))
	assert.Equal(t, 1, fake.count("CompleteMultipartUpload"))

	e, err := s.Meta(ctx, "/docs/f.bin")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), e.Size)
	assert.Equal(t, mtime, e.Mtime)
	assert.Equal(t, res.Entry.MD5, e.MD5)

	// the same bytes elsewhere are copied server side
	res, err = eng.Upload(ctx, "/docs/copy.bin", "f.bin", transfer.OverwriteNone, nil)
	require.NoError(t, err)
	assert.True(t, res.Rapid)
	assert.Equal(t, 1, fake.count("CopyObject"))
	assert.Equal(t, 4, fake.count("UploadPart"))

	stream, err := s.Download(ctx, "/docs/copy.bin", 0)
	require.NoError(t, err)
	got, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStore_SmallFileUsesPutObject(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	fsys := memfs.New()
	eng := transfer.New(s, fsys, transfer.WithBlockSize(testBlock))
	writeFile(t, fsys, "small.txt", []byte("tiny"), time.Unix(1_600_000_000, 0))

	_, err := eng.Upload(ctx, "/small.txt", "small.txt", transfer.OverwriteNone, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, fake.count("UploadPart"))
	assert.Equal(t, 1, fake.count("AbortMultipartUpload"))
	assert.Contains(t, fake.keys(), "pan/small.txt")

	// existing target without replace
	m := &storage.Manifest{Size: 1, ContentMD5: "x", SliceMD5: "x", BlockMD5s: []string{"x"}}
	_, err = s.Precreate(ctx, &storage.PrecreateParams{Path: "/small.txt", Manifest: m})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	_, err = s.Precreate(ctx, &storage.PrecreateParams{Path: "/small.txt/x", Manifest: m})
	assert.ErrorIs(t, err, panerr.ErrConflict)
}

func TestStore_UploadPartValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)
	m := &storage.Manifest{Size: 2, ContentMD5: "c", SliceMD5: "c", BlockMD5s: []string{md5Hex([]byte("a")), md5Hex([]byte("b"))}}

	res, err := s.Precreate(ctx, &storage.PrecreateParams{Path: "/p", Manifest: m})
	require.NoError(t, err)

	var apiErr *panerr.RemoteAPIError
	assert.ErrorAs(t, s.UploadPart(ctx, res.UploadID, "/p", 1, []byte("b")), &apiErr)
	assert.ErrorAs(t, s.UploadPart(ctx, res.UploadID, "/p", 0, []byte("x")), &apiErr)
	assert.ErrorIs(t, s.UploadPart(ctx, "nope", "/p", 0, []byte("a")), storage.ErrUploadNotFound)

	require.NoError(t, s.UploadPart(ctx, res.UploadID, "/p", 0, []byte("a")))
	_, err = s.Finalize(ctx, &storage.FinalizeParams{Path: "/p", UploadID: res.UploadID, Manifest: m})
	assert.ErrorAs(t, err, &apiErr)
}

func TestStore_ListWithCursors(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		fake.put("pan/"+name, []byte(name), map[string]string{metaMtime: "1600000000"})
	}
	fake.put("pan/.bdpan/md5/x", nil, nil)
	fake.put("pan/sub/", nil, nil)

	all, err := lister.New(s, lister.WithLimit(2)).List(ctx, "/", true)
	require.NoError(t, err)

	var names []string
	for _, e := range all {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "sub"}, names)
	assert.Equal(t, time.Unix(1_600_000_000, 0), all[0].Mtime)
	assert.True(t, all[5].IsDir)

	// the cached cursor resumes at the page holding "e" instead of the first one
	before := fake.count("ListObjectsV2")
	page, err := s.List(ctx, "/", 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "/e", page[0].Path)
	assert.Equal(t, 2, fake.count("ListObjectsV2")-before)

	require.NoError(t, s.Mkdir(ctx, "/new"))
	assert.Equal(t, 0, s.cursors.Len())
}

func TestStore_ListErrors(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	fake.put("pan/f", []byte("f"), nil)

	_, err := s.List(ctx, "/none", 10, 0)
	assert.True(t, panerr.IsNotFound(err))

	_, err = s.List(ctx, "/f", 10, 0)
	assert.True(t, panerr.IsNotFound(err))

	_, err = s.List(ctx, "/", 0, 0)
	assert.Error(t, err)
}

func TestStore_Download(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	fake.put("pan/d/f.txt", []byte("0123456789"), nil)

	stream, err := s.Download(ctx, "/d/f.txt", 6)
	require.NoError(t, err)
	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(body))
	assert.Equal(t, int64(6), stream.Offset)
	assert.Equal(t, int64(10), stream.Size)

	_, err = s.Download(ctx, "/d/f.txt", 20)
	var apiErr *panerr.RemoteAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 416, apiErr.Errno)

	_, err = s.Download(ctx, "/d", 0)
	assert.ErrorIs(t, err, panerr.ErrConflict)

	_, err = s.Download(ctx, "/d/none", 0)
	assert.True(t, panerr.IsNotFound(err))
}

func TestStore_DeleteRecursive(t *testing.T) {
	ctx := context.Background()
	s, fake := setup(t)
	fake.put("pan/a/", nil, nil)
	fake.put("pan/a/x", []byte("x"), nil)
	fake.put("pan/a/b/y", []byte("y"), nil)
	fake.put("pan/ab", []byte("keep"), nil)

	require.NoError(t, s.Delete(ctx, []string{"/a", "/missing"}))
	assert.Equal(t, []string{"pan/ab"}, fake.keys())

	assert.Error(t, s.Delete(ctx, []string{"/"}))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"no such key", &s3types.NoSuchKey{}, func(t *testing.T, err error) { assert.True(t, panerr.IsNotFound(err)) }},
		{"not found", &s3types.NotFound{}, func(t *testing.T, err error) { assert.True(t, panerr.IsNotFound(err)) }},
		{"access denied", apiError("AccessDenied"), func(t *testing.T, err error) { assert.ErrorIs(t, err, panerr.ErrAuth) }},
		{"no such upload", apiError("NoSuchUpload"), func(t *testing.T, err error) { assert.ErrorIs(t, err, storage.ErrUploadNotFound) }},
		{"other api", apiError("SlowDown"), func(t *testing.T, err error) { assert.True(t, panerr.IsRetryable(err)) }},
		{"network", errors.New("connection reset"), func(t *testing.T, err error) {
			var te *panerr.TransportError
			assert.ErrorAs(t, err, &te)
		}},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), func(t *testing.T, err error) {
			assert.ErrorIs(t, err, context.Canceled)
			assert.False(t, panerr.IsRetryable(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, mapError("op", "/p", tc.err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{Bucket: "b", AccessKey: "k"}).Validate())
	assert.NoError(t, (&Config{Bucket: "b"}).Validate())
}

var (
	_ s3API = (*fakeS3)(nil)
	_ s3API = (*s3.Client)(nil)
)

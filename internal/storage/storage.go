// Package storage defines the remote storage contract the transfer and sync
// layers are written against, together with the value types that cross it.
package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrAlreadyExists is returned by Mkdir for an existing directory and by
	// Precreate/Finalize when the target exists and overwriting is off.
	ErrAlreadyExists = errors.New("storage: already exists")

	// ErrUploadNotFound is returned for an unknown or expired upload id
	ErrUploadNotFound = errors.New("storage: upload session not found")
)

// Storage is a remote store addressed by absolute slash-separated paths.
type Storage interface {
	// Meta returns the entry at path or a panerr.NotFoundError
	Meta(ctx context.Context, path string) (*Entry, error)

	// List returns at most limit entries of dir starting at offset start.
	// A page shorter than limit marks the end of the listing.
	List(ctx context.Context, dir string, limit, start int) ([]*Entry, error)

	// Precreate announces an upload. The result either completes the upload
	// (rapid upload) or carries the upload id parts are sent against.
	Precreate(ctx context.Context, params *PrecreateParams) (*PrecreateResult, error)

	// UploadPart stores part seq of an upload. Parts are sent in order starting at 0.
	UploadPart(ctx context.Context, uploadID, path string, seq int, data []byte) error

	// Finalize materializes the uploaded parts as a remote file.
	Finalize(ctx context.Context, params *FinalizeParams) (*Entry, error)

	// Mkdir creates a directory. An existing directory yields ErrAlreadyExists.
	Mkdir(ctx context.Context, path string) error

	// Delete removes files and directories (recursively) by path.
	Delete(ctx context.Context, paths []string) error

	// Download opens the content of path starting at byte offset.
	Download(ctx context.Context, path string, offset int64) (*DownloadStream, error)
}

// DownloadStream is an open download. Offset is where the body actually
// starts; a server ignoring the requested range reports 0.
type DownloadStream struct {
	Body   io.ReadCloser
	Offset int64
	Size   int64 // total size of the remote file, -1 when unknown
}

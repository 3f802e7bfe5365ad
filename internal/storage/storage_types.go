package storage

import (
	"path"
	"time"
)

// Entry is an immutable snapshot of a remote file or directory.
type Entry struct {
	Path  string
	IsDir bool
	Size  uint64
	Mtime time.Time // modification time recorded at upload, second precision
	MD5   string
	FsID  uint64
}

// Name returns the base name of the entry
func (e *Entry) Name() string {
	return path.Base(e.Path)
}

// OverwriteType tells the remote what to do with an existing file at the target.
type OverwriteType int

const (
	// OverwriteFail rejects the upload if the target exists
	OverwriteFail OverwriteType = 0
	// OverwriteReplace replaces the existing target
	OverwriteReplace OverwriteType = 3
)

// Manifest describes a file's content for rapid-upload detection and as the
// block list of a chunked upload.
type Manifest struct {
	Size       uint64
	ContentMD5 string
	SliceMD5   string   // digest of the first 256 KiB
	BlockMD5s  []string // in byte offset order, never empty
}

// PrecreateParams is the first step of an upload
type PrecreateParams struct {
	Path       string
	Manifest   *Manifest
	Overwrite  OverwriteType
	LocalCtime time.Time
	LocalMtime time.Time
}

// ReturnType values of a precreate response
const (
	ReturnTypeUpload = 1
	ReturnTypeRapid  = 2
)

// PrecreateResult is the remote's answer to a precreate
type PrecreateResult struct {
	ReturnType int
	UploadID   string
	Entry      *Entry // set on rapid upload
}

// Rapid reports whether the remote completed the upload without any part
func (r *PrecreateResult) Rapid() bool {
	return r.ReturnType == ReturnTypeRapid
}

// FinalizeParams is the last step of an upload
type FinalizeParams struct {
	Path       string
	UploadID   string
	Manifest   *Manifest
	Overwrite  OverwriteType
	LocalCtime time.Time
	LocalMtime time.Time
}

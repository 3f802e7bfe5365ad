package pansdk

import (
	"time"

	"github.com/gobdpan/bdpan/internal/storage"
)

// FileInfo is a file record as the pan API reports it
type FileInfo struct {
	FsID           uint64 `json:"fs_id"`
	Path           string `json:"path"`
	ServerFilename string `json:"server_filename,omitempty"`
	IsDir          int    `json:"isdir"`
	Size           uint64 `json:"size"`
	MD5            string `json:"md5,omitempty"`
	LocalMtime     int64  `json:"local_mtime,omitempty"`
	LocalCtime     int64  `json:"local_ctime,omitempty"`
	ServerMtime    int64  `json:"server_mtime,omitempty"`
	ServerCtime    int64  `json:"server_ctime,omitempty"`
}

// Entry converts the record. The local mtime is preferred over the server's.
func (f *FileInfo) Entry() *storage.Entry {
	mtime := f.LocalMtime
	if mtime == 0 {
		mtime = f.ServerMtime
	}
	e := &storage.Entry{
		Path:  storage.CleanPath(f.Path),
		IsDir: f.IsDir == 1,
		Size:  f.Size,
		MD5:   f.MD5,
		FsID:  f.FsID,
	}
	if mtime > 0 {
		e.Mtime = time.Unix(mtime, 0)
	}
	return e
}

// NewFileInfo is the inverse of Entry
func NewFileInfo(e *storage.Entry) FileInfo {
	f := FileInfo{
		FsID:           e.FsID,
		Path:           e.Path,
		ServerFilename: e.Name(),
		Size:           e.Size,
		MD5:            e.MD5,
	}
	if e.IsDir {
		f.IsDir = 1
	}
	if !e.Mtime.IsZero() {
		f.LocalMtime = e.Mtime.Unix()
		f.ServerMtime = e.Mtime.Unix()
	}
	return f
}

type APIResponse struct {
	Errno     int    `json:"errno"`
	ErrMsg    string `json:"errmsg,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
}

type ListResponse struct {
	APIResponse
	List []FileInfo `json:"list"`
}

type PrecreateResponse struct {
	APIResponse
	Path       string    `json:"path,omitempty"`
	UploadID   string    `json:"uploadid,omitempty"`
	ReturnType int       `json:"return_type"`
	BlockList  []int     `json:"block_list"`
	Info       *FileInfo `json:"info,omitempty"`
}

type CreateResponse struct {
	APIResponse
	FileInfo
}

type UploadPartResponse struct {
	MD5       string `json:"md5"`
	RequestID int64  `json:"request_id,omitempty"`
}

type FilemanagerResponse struct {
	APIResponse
	Info []struct {
		Errno int    `json:"errno"`
		Path  string `json:"path"`
	} `json:"info"`
}

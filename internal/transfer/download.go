package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
)

type DownloadResult struct {
	LocalPath string
	Skipped   bool
	Resumed   bool
	Offset    int64 // where the transfer started
	Bytes     int64 // bytes received in this call
}

// Download fetches entry to dst. An existing directory at dst receives the
// file under its remote base name. Incomplete data is kept in dst + ".part"
// and resumed by the next call.
func (e *Engine) Download(ctx context.Context, entry *storage.Entry, dst string, policy OverwritePolicy) (*DownloadResult, error) {
	if entry.IsDir {
		return nil, panerr.NewConflictError(entry.Path, "remote path is a directory")
	}

	info, err := e.fsys.Stat(dst)
	if err == nil && info.IsDir() {
		dst = e.fsys.Join(dst, entry.Name())
		info, err = e.fsys.Stat(dst)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, panerr.NewIoError("stat", dst, err)
	}

	res := &DownloadResult{LocalPath: dst}
	if err == nil {
		if info.IsDir() {
			return nil, panerr.NewConflictError(dst, "local path is a directory")
		}
		if !ShouldReplace(policy, e.mtimeRule, entry.Mtime, info.ModTime()) {
			e.logger.Debug("download skipped", "path", dst, "policy", policy)
			res.Skipped = true
			return res, nil
		}
	}

	if dir := filepath.Dir(dst); dir != "." && dir != "" {
		if err := e.fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, panerr.NewIoError("mkdir", dir, err)
		}
	}

	part := dst + PartialSuffix
	size := int64(entry.Size)
	offset, err := e.partialSize(part)
	if err != nil {
		return nil, err
	}
	if offset > size {
		e.logger.Warn("discarding oversized partial download", "path", part, "have", offset, "want", size)
		if err := e.fsys.Remove(part); err != nil {
			return nil, panerr.NewIoError("remove", part, err)
		}
		offset = 0
	}
	res.Offset = offset
	res.Resumed = offset > 0

	if offset < size {
		n, err := e.fetch(ctx, entry, part, offset)
		res.Bytes = n
		if err != nil {
			return res, err
		}
	} else if err := e.touch(part); err != nil {
		return res, err
	}

	got, err := e.partialSize(part)
	if err != nil {
		return res, err
	}
	if got != size {
		if got > size {
			_ = e.fsys.Remove(part)
		}
		return res, panerr.NewTransportError("download", fmt.Errorf("%s: got %d bytes, want %d", entry.Path, got, size))
	}

	if err := e.fsys.Rename(part, dst); err != nil {
		return res, panerr.NewIoError("rename", part, err)
	}
	if ch, ok := e.fsys.(billy.Change); ok && !entry.Mtime.IsZero() {
		if err := ch.Chtimes(dst, entry.Mtime, entry.Mtime); err != nil {
			return res, panerr.NewIoError("chtimes", dst, err)
		}
	}

	e.logger.Info("downloaded", "path", dst, "size", humanize.IBytes(entry.Size), "resumed_at", offset)
	return res, nil
}

// fetch appends the remote content from offset to the partial file and
// returns the number of bytes written.
func (e *Engine) fetch(ctx context.Context, entry *storage.Entry, part string, offset int64) (int64, error) {
	stream, err := e.store.Download(ctx, entry.Path, offset)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", entry.Path, err)
	}
	defer stream.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch {
	case stream.Offset == offset:
	case stream.Offset == 0:
		e.logger.Warn("range ignored by remote, restarting download", "path", entry.Path, "requested", offset)
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	default:
		return 0, panerr.NewTransportError("download", fmt.Errorf("%s: asked for offset %d, got %d", entry.Path, offset, stream.Offset))
	}

	f, err := e.fsys.OpenFile(part, flags, 0o644)
	if err != nil {
		return 0, panerr.NewIoError("open", part, err)
	}

	body := &progressReader{
		reader:   stream.Body,
		op:       "download",
		progress: Progress{Direction: DirectionDownload, Path: entry.Path, Done: stream.Offset, Total: int64(entry.Size)},
		callback: e.progress,
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	if copyErr != nil {
		var transportErr *panerr.TransportError
		if errors.As(copyErr, &transportErr) {
			return n, copyErr
		}
		return n, panerr.NewIoError("write", part, copyErr)
	}
	if closeErr != nil {
		return n, panerr.NewIoError("close", part, closeErr)
	}
	return n, nil
}

func (e *Engine) partialSize(part string) (int64, error) {
	info, err := e.fsys.Stat(part)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, panerr.NewIoError("stat", part, err)
	}
	return info.Size(), nil
}

func (e *Engine) touch(name string) error {
	f, err := e.fsys.OpenFile(name, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return panerr.NewIoError("create", name, err)
	}
	return f.Close()
}

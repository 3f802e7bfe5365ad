package transfer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gobdpan/bdpan/internal/hasher"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/storage"
)

// ErrSourceChanged is returned when a file changes between hashing and
// sending its blocks. Retrying the upload starts over from hashing.
var ErrSourceChanged = errors.New("transfer: source file changed during upload")

type UploadResult struct {
	RemotePath string
	Skipped    bool
	Rapid      bool
	Parts      int
	Entry      *storage.Entry
}

// Upload sends the local file at localPath to remotePath. existing is the
// remote entry currently at remotePath, if the caller knows one.
func (e *Engine) Upload(ctx context.Context, remotePath, localPath string, policy OverwritePolicy, existing *storage.Entry) (*UploadResult, error) {
	remotePath = storage.CleanPath(remotePath)
	res := &UploadResult{RemotePath: remotePath}

	info, err := e.fsys.Stat(localPath)
	if err != nil {
		return nil, panerr.NewIoError("stat", localPath, err)
	}
	if info.IsDir() {
		return nil, panerr.NewConflictError(localPath, "source is a directory")
	}
	mtime := info.ModTime()

	if existing != nil {
		if existing.IsDir {
			return nil, panerr.NewConflictError(remotePath, "remote path is a directory")
		}
		if !ShouldReplace(policy, e.mtimeRule, mtime, existing.Mtime) {
			e.logger.Debug("upload skipped", "path", remotePath, "policy", policy)
			res.Skipped = true
			res.Entry = existing
			return res, nil
		}
	}

	manifest, err := hasher.HashFile(e.fsys, localPath, e.blockSize)
	if err != nil {
		return nil, err
	}

	overwrite := storage.OverwriteReplace
	if policy == OverwriteNone || policy == "" {
		overwrite = storage.OverwriteFail
	}

	pre, err := e.store.Precreate(ctx, &storage.PrecreateParams{
		Path:       remotePath,
		Manifest:   manifest,
		Overwrite:  overwrite,
		LocalCtime: mtime,
		LocalMtime: mtime,
	})
	if err != nil {
		return nil, fmt.Errorf("precreate %s: %w", remotePath, err)
	}

	if pre.Rapid() {
		e.logger.Info("rapid upload", "path", remotePath, "size", humanize.IBytes(manifest.Size))
		res.Rapid = true
		res.Entry = pre.Entry
		if res.Entry == nil {
			res.Entry = &storage.Entry{Path: remotePath, Size: manifest.Size, Mtime: mtime, MD5: manifest.ContentMD5}
		}
		e.report(Progress{Direction: DirectionUpload, Path: remotePath, Done: int64(manifest.Size), Total: int64(manifest.Size)})
		return res, nil
	}

	parts, err := e.sendParts(ctx, pre.UploadID, remotePath, localPath, manifest)
	if err != nil {
		return nil, err
	}
	res.Parts = parts

	entry, err := e.store.Finalize(ctx, &storage.FinalizeParams{
		Path:       remotePath,
		UploadID:   pre.UploadID,
		Manifest:   manifest,
		Overwrite:  overwrite,
		LocalCtime: mtime,
		LocalMtime: mtime,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", remotePath, err)
	}
	res.Entry = entry

	e.logger.Info("uploaded", "path", remotePath, "size", humanize.IBytes(manifest.Size), "parts", parts)
	return res, nil
}

// sendParts uploads every block of localPath in order and checks each
// against the manifest it was announced with.
func (e *Engine) sendParts(ctx context.Context, uploadID, remotePath, localPath string, manifest *storage.Manifest) (int, error) {
	blocks, err := hasher.OpenBlocks(e.fsys, localPath, e.blockSize)
	if err != nil {
		return 0, err
	}
	defer blocks.Close()

	total := int64(manifest.Size)
	var done int64
	parts := 0
	for {
		if err := ctx.Err(); err != nil {
			return parts, err
		}

		seq, data, err := blocks.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return parts, err
		}

		if seq >= len(manifest.BlockMD5s) || blockMD5(data) != manifest.BlockMD5s[seq] {
			return parts, fmt.Errorf("upload %s part %d: %w", remotePath, seq, ErrSourceChanged)
		}

		if err := e.store.UploadPart(ctx, uploadID, remotePath, seq, data); err != nil {
			return parts, fmt.Errorf("upload %s part %d: %w", remotePath, seq, err)
		}
		parts++
		done += int64(len(data))
		e.report(Progress{Direction: DirectionUpload, Path: remotePath, Done: done, Total: total})
	}

	if parts != len(manifest.BlockMD5s) {
		return parts, fmt.Errorf("upload %s: sent %d of %d parts: %w", remotePath, parts, len(manifest.BlockMD5s), ErrSourceChanged)
	}
	return parts, nil
}

func blockMD5(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

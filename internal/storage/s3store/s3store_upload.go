package s3store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gobdpan/bdpan/internal/storage"
)

// upload is an open multipart upload. Blocks are buffered until they reach
// the part size.
type upload struct {
	path     string
	key      string
	manifest *storage.Manifest
	mtime    time.Time
	nextSeq  int
	buf      bytes.Buffer
	parts    []s3types.CompletedPart
}

func (s *Store) Precreate(ctx context.Context, params *storage.PrecreateParams) (*storage.PrecreateResult, error) {
	p := storage.CleanPath(params.Path)
	if err := s.checkTarget(ctx, p, params.Overwrite); err != nil {
		return nil, err
	}

	entry, err := s.rapidCopy(ctx, p, params.Manifest, params.LocalMtime)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return &storage.PrecreateResult{ReturnType: storage.ReturnTypeRapid, Entry: entry}, nil
	}

	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key(p)),
		Metadata: objectMeta(params.Manifest, params.LocalMtime),
	})
	if err != nil {
		return nil, mapError("precreate", p, err)
	}

	id := aws.ToString(out.UploadId)
	s.mu.Lock()
	s.uploads[id] = &upload{
		path:     p,
		key:      s.key(p),
		manifest: params.Manifest,
		mtime:    params.LocalMtime,
	}
	s.mu.Unlock()

	return &storage.PrecreateResult{ReturnType: storage.ReturnTypeUpload, UploadID: id}, nil
}

// rapidCopy completes an upload with a server-side copy when the content
// index knows an object with the same digest. It returns nil when it cannot.
func (s *Store) rapidCopy(ctx context.Context, p string, m *storage.Manifest, mtime time.Time) (*storage.Entry, error) {
	idx, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.indexKey(m.ContentMD5)),
	})
	if err != nil {
		if err := mapError("precreate", p, err); !isNotFound(err) {
			return nil, err
		}
		return nil, nil
	}

	srcKey := idx.Metadata[metaPath]
	src, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(srcKey),
	})
	if err != nil {
		if err := mapError("precreate", p, err); !isNotFound(err) {
			return nil, err
		}
		s.logger.Debug("stale content index entry", "md5", m.ContentMD5, "key", srcKey)
		return nil, nil
	}
	if src.Metadata[metaMD5] != m.ContentMD5 || uint64(aws.ToInt64(src.ContentLength)) != m.Size {
		return nil, nil
	}

	_, err = s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.key(p)),
		CopySource:        aws.String(s.bucket + "/" + srcKey),
		Metadata:          objectMeta(m, mtime),
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return nil, mapError("precreate", p, err)
	}
	s.invalidate()

	s.logger.Debug("rapid upload", "path", p, "source", srcKey)
	return s.newEntry(p, m, mtime), nil
}

func (s *Store) UploadPart(ctx context.Context, uploadID, p string, seq int, data []byte) error {
	p = storage.CleanPath(p)

	s.mu.Lock()
	u, ok := s.uploads[uploadID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("upload part %d: %w", seq, storage.ErrUploadNotFound)
	}
	if u.path != p {
		return remoteError("upload", 31363, "path does not match upload id")
	}
	if seq != u.nextSeq {
		return remoteError("upload", 31299, fmt.Sprintf("unexpected partseq %d, want %d", seq, u.nextSeq))
	}
	if seq >= len(u.manifest.BlockMD5s) || md5Hex(data) != u.manifest.BlockMD5s[seq] {
		return remoteError("upload", 31190, fmt.Sprintf("part %d does not match block list", seq))
	}

	u.buf.Write(data)
	u.nextSeq++
	if u.buf.Len() >= s.partSize {
		return s.flush(ctx, uploadID, u)
	}
	return nil
}

// flush sends the buffered blocks as the next S3 part
func (s *Store) flush(ctx context.Context, uploadID string, u *upload) error {
	num := int32(len(u.parts) + 1)
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(u.key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(num),
		Body:          bytes.NewReader(u.buf.Bytes()),
		ContentLength: aws.Int64(int64(u.buf.Len())),
	})
	if err != nil {
		return mapError("upload", u.path, err)
	}

	u.parts = append(u.parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
	u.buf.Reset()
	return nil
}

func (s *Store) Finalize(ctx context.Context, params *storage.FinalizeParams) (*storage.Entry, error) {
	p := storage.CleanPath(params.Path)

	s.mu.Lock()
	u, ok := s.uploads[params.UploadID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("finalize: %w", storage.ErrUploadNotFound)
	}
	if u.path != p {
		return nil, remoteError("create", 31363, "path does not match upload id")
	}
	if u.nextSeq != len(u.manifest.BlockMD5s) {
		return nil, remoteError("create", 31352, fmt.Sprintf("got %d of %d parts", u.nextSeq, len(u.manifest.BlockMD5s)))
	}
	if err := s.checkTarget(ctx, p, params.Overwrite); err != nil {
		return nil, err
	}

	var err error
	if len(u.parts) == 0 {
		// the whole file fits one buffer
		err = s.putSmall(ctx, params.UploadID, u)
	} else {
		err = s.complete(ctx, params.UploadID, u)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.uploads, params.UploadID)
	s.mu.Unlock()
	s.invalidate()

	if err := s.indexContent(ctx, u.key, u.manifest); err != nil {
		s.logger.Warn("content index update failed", "path", p, "error", err)
	}
	return s.newEntry(p, u.manifest, u.mtime), nil
}

func (s *Store) putSmall(ctx context.Context, uploadID string, u *upload) error {
	if _, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(uploadID),
	}); err != nil {
		s.logger.Debug("abort multipart upload", "path", u.path, "error", err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(u.key),
		Body:          bytes.NewReader(u.buf.Bytes()),
		ContentLength: aws.Int64(int64(u.buf.Len())),
		Metadata:      objectMeta(u.manifest, u.mtime),
	})
	return mapError("create", u.path, err)
}

func (s *Store) complete(ctx context.Context, uploadID string, u *upload) error {
	if u.buf.Len() > 0 {
		if err := s.flush(ctx, uploadID, u); err != nil {
			return err
		}
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(u.key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: u.parts},
	})
	return mapError("create", u.path, err)
}

func (s *Store) indexContent(ctx context.Context, key string, m *storage.Manifest) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.indexKey(m.ContentMD5)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		Metadata:      map[string]string{metaPath: key},
	})
	return err
}

// checkTarget validates an upload destination
func (s *Store) checkTarget(ctx context.Context, p string, ow storage.OverwriteType) error {
	entry, err := s.Meta(ctx, p)
	switch {
	case isNotFound(err):
	case err != nil:
		return err
	case entry.IsDir:
		return conflict(p, "a directory exists at this path")
	case ow != storage.OverwriteReplace:
		return fmt.Errorf("upload %s: %w", p, storage.ErrAlreadyExists)
	}

	dir, _ := storage.Split(p)
	if dir == "/" {
		return nil
	}
	parent, err := s.Meta(ctx, dir)
	if err == nil && !parent.IsDir {
		return conflict(dir, "parent is a file")
	}
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) newEntry(p string, m *storage.Manifest, mtime time.Time) *storage.Entry {
	e := &storage.Entry{Path: p, Size: m.Size, MD5: m.ContentMD5}
	if !mtime.IsZero() {
		e.Mtime = time.Unix(mtime.Unix(), 0)
	}
	return e
}

func objectMeta(m *storage.Manifest, mtime time.Time) map[string]string {
	meta := map[string]string{metaMD5: m.ContentMD5}
	if !mtime.IsZero() {
		meta[metaMtime] = strconv.FormatInt(mtime.Unix(), 10)
	}
	return meta
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

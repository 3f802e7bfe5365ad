// Package s3store binds the remote storage contract to an S3 bucket.
//
// Files are objects keyed by their path under an optional prefix. Directories
// are "dir/" marker objects, or implicit when objects exist below them. The
// modification time and content MD5 travel as object metadata, and every
// finalized file is recorded in a content index so a later upload of the same
// bytes completes with a server-side copy.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gobdpan/bdpan/internal/storage"
)

const (
	// MinPartSize is the smallest part S3 accepts except for the last one
	MinPartSize = 5 << 20

	metaMtime = "mtime"
	metaMD5   = "md5"
	metaPath  = "path"

	indexDir         = ".bdpan/"
	cursorCacheSize  = 512
	maxDeleteObjects = 1000
)

// s3API is the subset of *s3.Client the store uses
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

type Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"` // path-style addressing when set
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("s3: access key and secret key go together")
	}
	return nil
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithPartSize sets the part buffering threshold
func WithPartSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.partSize = size
		}
	}
}

type Store struct {
	client   s3API
	bucket   string
	prefix   string
	partSize int
	logger   *slog.Logger

	cursors *lru.Cache[string, cursor]

	mu      sync.Mutex
	uploads map[string]*upload
}

var _ storage.Storage = (*Store)(nil)

func New(client s3API, bucket, prefix string, opts ...Option) *Store {
	cursors, _ := lru.New[string, cursor](cursorCacheSize)

	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	s := &Store{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		partSize: MinPartSize,
		logger:   slog.Default(),
		cursors:  cursors,
		uploads:  make(map[string]*upload),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithConfig builds the AWS client from cfg
func NewWithConfig(ctx context.Context, cfg *Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// key maps a remote path to its object key. The root maps to the prefix.
func (s *Store) key(p string) string {
	return s.prefix + strings.TrimPrefix(storage.CleanPath(p), "/")
}

// dirKey is the marker key of a directory and the listing prefix of its children
func (s *Store) dirKey(p string) string {
	p = storage.CleanPath(p)
	if p == "/" {
		return s.prefix
	}
	return s.key(p) + "/"
}

func (s *Store) indexKey(contentMD5 string) string {
	return s.prefix + indexDir + "md5/" + contentMD5
}

// path maps an object key back to a remote path
func (s *Store) path(key string) string {
	return storage.CleanPath("/" + strings.TrimSuffix(strings.TrimPrefix(key, s.prefix), "/"))
}

func (s *Store) Meta(ctx context.Context, p string) (*storage.Entry, error) {
	p = storage.CleanPath(p)
	if p == "/" {
		return &storage.Entry{Path: "/", IsDir: true}, nil
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err == nil {
		return s.fileEntry(p, aws.ToInt64(head.ContentLength), head.Metadata, aws.ToString(head.ETag), aws.ToTime(head.LastModified)), nil
	}
	if err := mapError("meta", p, err); !isNotFound(err) {
		return nil, err
	}

	isDir, err := s.dirExists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, notFound(p)
	}
	return &storage.Entry{Path: p, IsDir: true}, nil
}

// dirExists reports whether p has a marker or anything below it
func (s *Store) dirExists(ctx context.Context, p string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, mapError("meta", p, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *Store) fileEntry(p string, size int64, meta map[string]string, etag string, modified time.Time) *storage.Entry {
	e := &storage.Entry{
		Path: p,
		Size: uint64(max(size, 0)),
		MD5:  meta[metaMD5],
	}
	if e.MD5 == "" {
		e.MD5 = strings.Trim(etag, `"`)
	}
	if sec, err := strconv.ParseInt(meta[metaMtime], 10, 64); err == nil && sec > 0 {
		e.Mtime = time.Unix(sec, 0)
	} else if !modified.IsZero() {
		e.Mtime = modified.Truncate(time.Second)
	}
	return e
}

func (s *Store) Mkdir(ctx context.Context, p string) error {
	p = storage.CleanPath(p)
	entry, err := s.Meta(ctx, p)
	switch {
	case err == nil && entry.IsDir:
		return fmt.Errorf("mkdir %s: %w", p, storage.ErrAlreadyExists)
	case err == nil:
		return conflict(p, "a file exists at this path")
	case !isNotFound(err):
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.dirKey(p)),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return mapError("mkdir", p, err)
	}
	s.invalidate()
	return nil
}

func (s *Store) Delete(ctx context.Context, paths []string) error {
	for _, p := range paths {
		p = storage.CleanPath(p)
		if p == "/" {
			return remoteError("delete", 2, "cannot delete root")
		}

		keys := []string{s.key(p)}
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.dirKey(p)),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return mapError("delete", p, err)
			}
			for _, obj := range page.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
		}

		if err := s.deleteKeys(ctx, p, keys); err != nil {
			return err
		}
	}
	s.invalidate()
	return nil
}

// deleteKeys removes keys in batches. Missing keys are not an error.
func (s *Store) deleteKeys(ctx context.Context, p string, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), maxDeleteObjects)
		batch := make([]s3types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			batch[i] = s3types.ObjectIdentifier{Key: aws.String(k)}
		}
		keys = keys[n:]

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapError("delete", p, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return remoteError("delete", http.StatusInternalServerError,
				fmt.Sprintf("%s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return nil
}

func (s *Store) Download(ctx context.Context, p string, offset int64) (*storage.DownloadStream, error) {
	p = storage.CleanPath(p)
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	}
	if offset > 0 {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		err = mapError("download", p, err)
		if isNotFound(err) {
			if isDir, dirErr := s.dirExists(ctx, p); dirErr == nil && isDir {
				return nil, conflict(p, "cannot download a directory")
			}
		}
		return nil, err
	}

	stream := &storage.DownloadStream{Body: out.Body, Size: aws.ToInt64(out.ContentLength)}
	if cr := aws.ToString(out.ContentRange); cr != "" {
		start, total, ok := parseContentRange(cr)
		if !ok {
			out.Body.Close()
			return nil, transportError("download", fmt.Errorf("bad Content-Range %q", cr))
		}
		stream.Offset, stream.Size = start, total
	}
	return stream, nil
}

// invalidate drops listing cursors, which go stale on any write
func (s *Store) invalidate() {
	s.cursors.Purge()
}

func parseContentRange(v string) (int64, int64, bool) {
	v, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, 0, false
	}
	span, totalStr, ok := strings.Cut(v, "/")
	if !ok {
		return 0, 0, false
	}
	startStr, _, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	total := int64(-1)
	if totalStr != "*" {
		if total, err = strconv.ParseInt(totalStr, 10, 64); err != nil {
			return 0, 0, false
		}
	}
	return start, total, true
}

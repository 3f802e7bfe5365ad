package s3store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/gobdpan/bdpan/internal/storage"
)

const metaConcurrency = 8

// cursor resumes a listing at an entry offset: request the page at token,
// then skip that many entries of it.
type cursor struct {
	token string
	skip  int
}

func cursorKey(dir string, offset int) string {
	return fmt.Sprintf("%s\x00%d", dir, offset)
}

func (s *Store) List(ctx context.Context, dir string, limit, start int) ([]*storage.Entry, error) {
	dir = storage.CleanPath(dir)
	if limit <= 0 || start < 0 {
		return nil, remoteError("list", 2, "bad start or limit")
	}

	if dir != "/" {
		entry, err := s.Meta(ctx, dir)
		if err != nil {
			return nil, err
		}
		if !entry.IsDir {
			return nil, notFound(dir)
		}
	}

	cur, ok := s.cursors.Get(cursorKey(dir, start))
	if !ok {
		// no cursor, so scan from the beginning
		cur = cursor{skip: start}
	}

	entries := make([]*storage.Entry, 0, limit)
	token, skip := cur.token, cur.skip
	for {
		in := &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(s.dirKey(dir)),
			Delimiter: aws.String("/"),
			MaxKeys:   aws.Int32(int32(min(limit+1, 1000))),
		}
		if token != "" {
			in.ContinuationToken = aws.String(token)
		}

		page, err := s.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, mapError("list", dir, err)
		}

		for i, e := range s.pageEntries(dir, page) {
			if skip > 0 {
				skip--
				continue
			}
			if len(entries) == limit {
				s.cursors.Add(cursorKey(dir, start+limit), cursor{token: token, skip: i})
				return entries, s.fillMeta(ctx, entries)
			}
			entries = append(entries, e)
		}

		if !aws.ToBool(page.IsTruncated) {
			return entries, s.fillMeta(ctx, entries)
		}
		token = aws.ToString(page.NextContinuationToken)
	}
}

// pageEntries merges the directories and files of a listing page in key order
func (s *Store) pageEntries(dir string, page *s3.ListObjectsV2Output) []*storage.Entry {
	type keyed struct {
		key   string
		entry *storage.Entry
	}

	marker := s.dirKey(dir)
	items := make([]keyed, 0, len(page.CommonPrefixes)+len(page.Contents))

	for _, cp := range page.CommonPrefixes {
		k := aws.ToString(cp.Prefix)
		if dir == "/" && k == s.prefix+indexDir {
			continue
		}
		items = append(items, keyed{k, &storage.Entry{Path: s.path(k), IsDir: true}})
	}
	for _, obj := range page.Contents {
		k := aws.ToString(obj.Key)
		if k == marker || strings.HasSuffix(k, "/") {
			continue
		}
		e := s.fileEntry(s.path(k), aws.ToInt64(obj.Size), nil, aws.ToString(obj.ETag), aws.ToTime(obj.LastModified))
		items = append(items, keyed{k, e})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })

	out := make([]*storage.Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}

// fillMeta replaces the listing attributes of files with their object
// metadata. Listings carry no user metadata.
func (s *Store) fillMeta(ctx context.Context, entries []*storage.Entry) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(metaConcurrency)

	for _, e := range entries {
		if e.IsDir {
			continue
		}
		g.Go(func() error {
			head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.key(e.Path)),
			})
			if err != nil {
				return mapError("list", e.Path, err)
			}
			*e = *s.fileEntry(e.Path, aws.ToInt64(head.ContentLength), head.Metadata, aws.ToString(head.ETag), aws.ToTime(head.LastModified))
			return nil
		})
	}
	return g.Wait()
}

package retry

import (
	"context"

	"github.com/gobdpan/bdpan/internal/storage"
)

// Storage wraps a storage.Storage and retries its idempotent calls: Meta,
// List, Mkdir, Delete and opening a Download. Upload steps pass through;
// callers retry whole uploads.
type Storage struct {
	storage.Storage
	policy Policy
}

var _ storage.Storage = (*Storage)(nil)

func NewStorage(s storage.Storage, p Policy) *Storage {
	return &Storage{Storage: s, policy: p}
}

func (s *Storage) Meta(ctx context.Context, path string) (*storage.Entry, error) {
	return Value(ctx, s.policy, "meta", func(ctx context.Context) (*storage.Entry, error) {
		return s.Storage.Meta(ctx, path)
	})
}

func (s *Storage) List(ctx context.Context, dir string, limit, start int) ([]*storage.Entry, error) {
	return Value(ctx, s.policy, "list", func(ctx context.Context) ([]*storage.Entry, error) {
		return s.Storage.List(ctx, dir, limit, start)
	})
}

func (s *Storage) Mkdir(ctx context.Context, path string) error {
	return s.policy.Do(ctx, "mkdir", func(ctx context.Context) error {
		return s.Storage.Mkdir(ctx, path)
	})
}

func (s *Storage) Delete(ctx context.Context, paths []string) error {
	return s.policy.Do(ctx, "delete", func(ctx context.Context) error {
		return s.Storage.Delete(ctx, paths)
	})
}

func (s *Storage) Download(ctx context.Context, path string, offset int64) (*storage.DownloadStream, error) {
	return Value(ctx, s.policy, "download", func(ctx context.Context) (*storage.DownloadStream, error) {
		return s.Storage.Download(ctx, path, offset)
	})
}

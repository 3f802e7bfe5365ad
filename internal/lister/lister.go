// Package lister enumerates remote directories page by page.
package lister

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gobdpan/bdpan/internal/storage"
)

const DefaultLimit = 5000

type Option func(*Lister)

func WithLimit(limit int) Option {
	return func(l *Lister) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Lister) {
		if logger != nil {
			l.logger = logger
		}
	}
}

type Lister struct {
	store  storage.Storage
	limit  int
	logger *slog.Logger
}

func New(store storage.Storage, opts ...Option) *Lister {
	l := &Lister{
		store:  store,
		limit:  DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit is the page size used for List requests
func (l *Lister) Limit() int {
	return l.limit
}

// List returns the entries of the directory at p in remote order. Unless
// knownDir is set, p is looked up first and a file is returned as the only
// element.
func (l *Lister) List(ctx context.Context, p string, knownDir bool) ([]*storage.Entry, error) {
	p = storage.CleanPath(p)

	if !knownDir {
		meta, err := l.store.Meta(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", p, err)
		}
		if !meta.IsDir {
			return []*storage.Entry{meta}, nil
		}
	}

	var entries []*storage.Entry
	for start := 0; ; start += l.limit {
		page, err := l.store.List(ctx, p, l.limit, start)
		if err != nil {
			return nil, fmt.Errorf("list %s at %d: %w", p, start, err)
		}
		entries = append(entries, page...)
		if len(page) < l.limit {
			break
		}
	}

	l.logger.Debug("listed", "path", p, "entries", len(entries))
	return entries, nil
}

// WalkFunc is called for every entry below the walk root. Returning
// SkipDir for a directory skips its contents.
type WalkFunc func(entry *storage.Entry) error

// SkipDir is returned by a WalkFunc to skip a directory
var SkipDir = errors.New("skip this directory")

// Walk visits the tree under root depth-first in remote order. A file root
// is visited alone.
func (l *Lister) Walk(ctx context.Context, root string, fn WalkFunc) error {
	entries, err := l.List(ctx, root, false)
	if err != nil {
		return err
	}
	if len(entries) == 1 && !entries[0].IsDir && entries[0].Path == storage.CleanPath(root) {
		return fn(entries[0])
	}
	return l.walk(ctx, entries, fn)
}

func (l *Lister) walk(ctx context.Context, entries []*storage.Entry, fn WalkFunc) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if !e.IsDir {
			continue
		}

		children, err := l.List(ctx, e.Path, true)
		if err != nil {
			return err
		}
		if err := l.walk(ctx, children, fn); err != nil {
			return err
		}
	}
	return nil
}

// Package transfer moves single files between the local filesystem and the
// remote store: chunked or rapid uploads and resumable downloads.
package transfer

import (
	"log/slog"

	"github.com/go-git/go-billy/v5"
	"github.com/gobdpan/bdpan/internal/hasher"
	"github.com/gobdpan/bdpan/internal/storage"
)

// PartialSuffix marks an incomplete download next to its destination
const PartialSuffix = ".part"

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithBlockSize(size int64) Option {
	return func(e *Engine) {
		if size > 0 {
			e.blockSize = size
		}
	}
}

func WithMtimeRule(rule MtimeRule) Option {
	return func(e *Engine) {
		if rule != "" {
			e.mtimeRule = rule
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// Engine transfers files one at a time. It holds no per-transfer state and
// may be shared by concurrent transfers of different files.
type Engine struct {
	store     storage.Storage
	fsys      billy.Filesystem
	logger    *slog.Logger
	blockSize int64
	mtimeRule MtimeRule
	progress  ProgressFunc
}

func New(store storage.Storage, fsys billy.Filesystem, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		fsys:      fsys,
		logger:    slog.Default(),
		blockSize: hasher.DefaultBlockSize,
		mtimeRule: MtimeNewer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) BlockSize() int64 {
	return e.blockSize
}

func (e *Engine) MtimeRule() MtimeRule {
	return e.mtimeRule
}

func (e *Engine) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

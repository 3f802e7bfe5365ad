package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gobdpan/bdpan/internal/panerr"
	"github.com/gobdpan/bdpan/internal/retry"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/transfer"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type ExecutorOptions struct {
	// Jobs is the number of file transfers run at once within a directory
	Jobs            int
	ContinueOnError bool
	DryRun          bool
	// Retry wraps every upload as a whole
	Retry   retry.Policy
	Journal *Journal
	Logger  *slog.Logger
	// Out receives the plan in dry-run mode
	Out io.Writer
}

// Report sums up an executed plan
type Report struct {
	Created     int
	Overwritten int
	Rapid       int
	Skipped     int
	Deleted     int
	Mkdirs      int
	Failed      int
	Bytes       int64
	Errors      []error
}

func (r *Report) Merge(o *Report) {
	if o == nil {
		return
	}
	r.Created += o.Created
	r.Overwritten += o.Overwritten
	r.Rapid += o.Rapid
	r.Skipped += o.Skipped
	r.Deleted += o.Deleted
	r.Mkdirs += o.Mkdirs
	r.Failed += o.Failed
	r.Bytes += o.Bytes
	r.Errors = append(r.Errors, o.Errors...)
}

// Executor applies decisions in plan order.
type Executor struct {
	store  storage.Storage
	engine *transfer.Engine
	fsys   billy.Filesystem
	opts   ExecutorOptions
	logger *slog.Logger
}

func NewExecutor(store storage.Storage, engine *transfer.Engine, fsys billy.Filesystem, opts ExecutorOptions) *Executor {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = uploadRetryable
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Executor{store: store, engine: engine, fsys: fsys, opts: opts, logger: opts.Logger}
}

func uploadRetryable(err error) bool {
	return errors.Is(err, transfer.ErrSourceChanged) || panerr.IsRetryable(err)
}

// run is the state of one Execute call
type run struct {
	id     string
	mu     stdsync.Mutex
	report *Report
	failed []Decision // directories whose subtree is skipped
}

// Execute applies plan. By default the first error stops execution and is
// returned. With ContinueOnError every failure is recorded, the subtree of
// a failed directory is skipped and the joined errors are returned at the end.
func (x *Executor) Execute(ctx context.Context, plan []Decision) (*Report, error) {
	r := &run{id: uuid.NewString(), report: &Report{}}

	if x.opts.DryRun {
		for _, d := range plan {
			fmt.Fprintln(x.opts.Out, d.String())
		}
		return r.report, nil
	}

	for i := 0; i < len(plan); {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}

		d := plan[i]
		if r.underFailed(d) {
			x.logger.Debug("skipping under failed directory", "path", d.Path)
			r.report.Skipped++
			i++
			continue
		}

		var (
			n   int
			err error
		)
		switch {
		case d.IsTransfer():
			n, err = x.transferBatch(ctx, r, plan[i:])
		case d.Action == ActionDelete && d.Direction == Upload:
			n, err = x.remoteDeleteBatch(ctx, r, plan[i:])
		default:
			n, err = 1, x.apply(ctx, r, d)
		}
		i += n

		if err != nil && !x.opts.ContinueOnError {
			return r.report, err
		}
	}

	if len(r.report.Errors) > 0 {
		return r.report, errors.Join(r.report.Errors...)
	}
	return r.report, nil
}

// transferBatch runs consecutive file transfers into the same directory,
// up to Jobs at a time. Decisions of other kinds end the batch.
func (x *Executor) transferBatch(ctx context.Context, r *run, plan []Decision) (int, error) {
	parent := parentOf(plan[0])
	n := 1
	for n < len(plan) && plan[n].IsTransfer() && parentOf(plan[n]) == parent && plan[n].Direction == plan[0].Direction {
		n++
	}
	batch := plan[:n]

	if x.opts.Jobs == 1 || n == 1 {
		for i, d := range batch {
			if err := x.apply(ctx, r, d); err != nil && !x.opts.ContinueOnError {
				return i + 1, err
			}
		}
		return n, nil
	}

	g, gctx := &errgroup.Group{}, ctx
	if !x.opts.ContinueOnError {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(x.opts.Jobs)
	for _, d := range batch {
		g.Go(func() error {
			err := x.apply(gctx, r, d)
			if x.opts.ContinueOnError {
				return nil
			}
			return err
		})
	}
	return n, g.Wait()
}

// remoteDeleteBatch removes consecutive remote paths sharing a parent with
// a single call.
func (x *Executor) remoteDeleteBatch(ctx context.Context, r *run, plan []Decision) (int, error) {
	parent := parentOf(plan[0])
	n := 1
	for n < len(plan) && plan[n].Action == ActionDelete && plan[n].Direction == Upload && parentOf(plan[n]) == parent {
		n++
	}
	batch := plan[:n]

	paths := make([]string, 0, n)
	for _, d := range batch {
		paths = append(paths, d.Path)
	}

	err := x.store.Delete(ctx, paths)
	if err != nil {
		err = fmt.Errorf("delete %s: %w", strings.Join(paths, ", "), err)
	} else {
		x.logger.Info("deleted remote", "paths", paths)
	}
	for _, d := range batch {
		r.finish(x, d, 0, err, func(rep *Report) { rep.Deleted++ })
	}
	return n, err
}

func (x *Executor) apply(ctx context.Context, r *run, d Decision) error {
	switch d.Action {
	case ActionSkip:
		r.mu.Lock()
		r.report.Skipped++
		r.mu.Unlock()
		return nil

	case ActionMkdir:
		err := x.mkdir(ctx, d)
		r.finish(x, d, 0, err, func(rep *Report) { rep.Mkdirs++ })
		return err

	case ActionDelete:
		err := x.localDelete(d)
		r.finish(x, d, 0, err, func(rep *Report) { rep.Deleted++ })
		return err

	case ActionCreate, ActionOverwrite:
		policy := transfer.OverwriteNone
		if d.Action == ActionOverwrite {
			policy = transfer.OverwriteForce
		}
		if d.Direction == Upload {
			return x.upload(ctx, r, d, policy)
		}
		return x.download(ctx, r, d, policy)

	default:
		return fmt.Errorf("unknown action %q for %s", d.Action, d.Path)
	}
}

func (x *Executor) mkdir(ctx context.Context, d Decision) error {
	if d.Direction == Download {
		if err := x.fsys.MkdirAll(d.Path, 0o755); err != nil {
			return panerr.NewIoError("mkdir", d.Path, err)
		}
		return nil
	}

	err := x.store.Mkdir(ctx, d.Path)
	if errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", d.Path, err)
	}
	return nil
}

// localDelete removes d.Path the way it was planned, as a tree or a plain
// file, and tries the other way when the entry changed type since.
func (x *Executor) localDelete(d Decision) error {
	removeTree := func() error { return util.RemoveAll(x.fsys, d.Path) }
	removeFile := func() error { return x.fsys.Remove(d.Path) }

	first, second := removeFile, removeTree
	if d.IsDir {
		first, second = removeTree, removeFile
	}

	err := first()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		x.logger.Debug("retrying local delete", "path", d.Path, "error", err)
		err = second()
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return panerr.NewIoError("remove", d.Path, err)
	}
	x.logger.Info("deleted local", "path", d.Path)
	return nil
}

func (x *Executor) upload(ctx context.Context, r *run, d Decision, policy transfer.OverwritePolicy) error {
	res, err := retry.Value(ctx, x.opts.Retry, "upload "+d.Path, func(ctx context.Context) (*transfer.UploadResult, error) {
		return x.engine.Upload(ctx, d.Path, d.Source, policy, nil)
	})

	var size int64
	if res != nil && res.Entry != nil {
		size = int64(res.Entry.Size)
	}
	r.finish(x, d, size, err, func(rep *Report) {
		switch {
		case res.Skipped:
			rep.Skipped++
			return
		case d.Action == ActionOverwrite:
			rep.Overwritten++
		default:
			rep.Created++
		}
		if res.Rapid {
			rep.Rapid++
		} else {
			rep.Bytes += size
		}
	})
	return err
}

func (x *Executor) download(ctx context.Context, r *run, d Decision, policy transfer.OverwritePolicy) error {
	res, err := x.engine.Download(ctx, d.Remote, d.Path, policy)

	var n int64
	if res != nil {
		n = res.Bytes
	}
	r.finish(x, d, n, err, func(rep *Report) {
		switch {
		case res.Skipped:
			rep.Skipped++
			return
		case d.Action == ActionOverwrite:
			rep.Overwritten++
		default:
			rep.Created++
		}
		rep.Bytes += n
	})
	return err
}

// finish records the outcome of d. ok runs under the report lock on success.
func (r *run) finish(x *Executor, d Decision, size int64, err error, ok func(*Report)) {
	r.mu.Lock()
	if err != nil {
		r.report.Failed++
		r.report.Errors = append(r.report.Errors, err)
		if d.IsDir {
			r.failed = append(r.failed, d)
		}
		x.logger.Error("sync step failed", "action", d.Action, "direction", d.Direction, "path", d.Path, "error", err)
	} else {
		ok(r.report)
	}
	r.mu.Unlock()

	if x.opts.Journal == nil {
		return
	}
	rec := &JournalRecord{
		RunID:     r.id,
		Action:    d.Action,
		Direction: d.Direction,
		Path:      d.Path,
		Source:    d.Source,
		Size:      size,
		Status:    StatusOK,
	}
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if jerr := x.opts.Journal.Record(rec); jerr != nil {
		x.logger.Warn("failed to record history", "path", d.Path, "error", jerr)
	}
}

func (r *run) underFailed(d Decision) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.failed {
		if f.Direction == d.Direction && within(d, f.Path) {
			return true
		}
	}
	return false
}

func within(d Decision, dir string) bool {
	if d.Direction == Upload {
		return d.Path != dir && storage.IsWithin(d.Path, dir)
	}
	rel, err := filepath.Rel(dir, d.Path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func parentOf(d Decision) string {
	if d.Direction == Upload {
		return path.Dir(d.Path)
	}
	return filepath.Dir(d.Path)
}

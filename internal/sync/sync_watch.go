package sync

import (
	"context"
	"path/filepath"
	"time"
)

// WatchOptions configures Runner.WatchUpload
type WatchOptions struct {
	// Dir is the OS path watched for changes
	Dir string
	// Quiet is how long the tree must stay unchanged before a pass starts
	Quiet  time.Duration
	Ignore *IgnoreList
	// OnPass is called after every pass
	OnPass func(*Report, error)
}

// WatchUpload runs an upload pass, then another one every time the local
// tree changes, until ctx ends. Pass errors are reported through OnPass
// and do not stop watching.
func (r *Runner) WatchUpload(ctx context.Context, localPath, remotePath string, opts WatchOptions) error {
	if opts.Quiet <= 0 {
		opts.Quiet = 2 * time.Second
	}

	watcher := NewFileWatcher(opts.Dir, r.logger)
	watcher.FilterPaths(func(p string) bool {
		rel, err := filepath.Rel(opts.Dir, p)
		if err != nil {
			return false
		}
		return opts.Ignore.ShouldIgnore(rel)
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	pass := func() {
		rep, err := r.Upload(ctx, localPath, remotePath)
		if opts.OnPass != nil {
			opts.OnPass(rep, err)
		}
	}
	pass()

	timer := time.NewTimer(opts.Quiet)
	timer.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			r.logger.Debug("local change", "path", ev.Path(), "event", ev.Event())
			dirty = true
			timer.Reset(opts.Quiet)
		case <-timer.C:
			if dirty {
				dirty = false
				pass()
			}
		}
	}
}

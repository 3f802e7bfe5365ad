package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gobdpan/bdpan/internal/config"
	"github.com/gobdpan/bdpan/internal/lister"
	"github.com/gobdpan/bdpan/internal/pansdk"
	"github.com/gobdpan/bdpan/internal/retry"
	"github.com/gobdpan/bdpan/internal/session"
	"github.com/gobdpan/bdpan/internal/storage"
	"github.com/gobdpan/bdpan/internal/storage/s3store"
	"github.com/gobdpan/bdpan/internal/sync"
	"github.com/gobdpan/bdpan/internal/transfer"
	"github.com/gobdpan/bdpan/internal/utils"
)

// app carries the state of one invocation
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer

	closers []func() error
}

// init loads the configuration and sets up logging. It runs before every
// command that needs them.
func (a *app) init(cmd *cobra.Command) error {
	confPath, _ := cmd.Flags().GetString("conf")
	if err := config.ReadInConfig(a.v, confPath); err != nil {
		return err
	}
	if err := bindFlags(a.v, cmd); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()

	level := slog.LevelInfo
	if a.v.GetBool(keyVerbose) {
		level = slog.LevelDebug
	}
	handler := newTerminalHandler(cmd.ErrOrStderr(), level)

	if cfg.LogFile != "" {
		if err := utils.EnsureParent(cfg.LogFile); err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		interceptor := utils.NewLogInterceptor(f)
		a.closers = append(a.closers, interceptor.Close, f.Close)
		handler = utils.NewMultiLogHandler(handler, slog.NewTextHandler(interceptor, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)

	if cfg.Path != "" {
		a.logger.Debug("config loaded", "path", cfg.Path)
	}
	return nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// runAction runs the named action and releases everything it opened
func (a *app) runAction(cmd *cobra.Command, name Action, args []string) (err error) {
	defer func() {
		err = errors.Join(err, a.close())
	}()

	fn, err := resolveAction(name)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), a, args)
}

func (a *app) sessionProvider() (*session.FileProvider, error) {
	p, err := utils.ResolvePath(a.cfg.SessionPath)
	if err != nil {
		return nil, err
	}
	return session.NewFileProvider(p)
}

// store opens the configured backend wrapped in the retry policy
func (a *app) store(ctx context.Context) (storage.Storage, error) {
	var backend storage.Storage

	switch a.cfg.Backend {
	case config.BackendS3:
		s, err := s3store.NewWithConfig(ctx, &a.cfg.S3, s3store.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		backend = s

	default:
		provider, err := a.sessionProvider()
		if err != nil {
			return nil, err
		}
		appID := a.cfg.AppID
		if appID == "" {
			appID = pansdk.DefaultAppID
		}
		sess, err := session.Resolve(provider, a.cfg.AccessToken, appID, utils.HWID(appID))
		if err != nil {
			return nil, err
		}
		if sess.AppID != "" {
			appID = sess.AppID
		}

		client, err := pansdk.New(pansdk.Config{
			XpanURL:     a.cfg.XpanURL,
			PcsURL:      a.cfg.PcsURL,
			AccessToken: sess.AccessToken,
			AppID:       appID,
			DeviceID:    sess.DeviceID,
			Logger:      a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		backend = client
	}

	policy := a.cfg.RetryPolicy()
	policy.Logger = a.logger
	return retry.NewStorage(backend, policy), nil
}

// localRoot resolves p to an absolute path served by a filesystem rooted at
// its volume
func localRoot(p string) (billy.Filesystem, string, error) {
	abs, err := utils.ResolvePath(p)
	if err != nil {
		return nil, "", err
	}
	root := filepath.VolumeName(abs) + string(filepath.Separator)
	return osfs.New(root, osfs.WithBoundOS()), abs, nil
}

func (a *app) progress() transfer.ProgressFunc {
	return func(p transfer.Progress) {
		a.logger.Info(string(p.Direction),
			"path", p.Path,
			"done", humanize.IBytes(uint64(p.Done)),
			"total", humanize.IBytes(uint64(p.Total)),
		)
	}
}

// runner builds the sync pipeline for the local tree at local
func (a *app) runner(ctx context.Context, fsys billy.Filesystem, local string) (*sync.Runner, *sync.IgnoreList, error) {
	store, err := a.store(ctx)
	if err != nil {
		return nil, nil, err
	}

	engine := transfer.New(store, fsys,
		transfer.WithLogger(a.logger),
		transfer.WithBlockSize(a.cfg.BlockSize),
		transfer.WithMtimeRule(a.cfg.MtimeRule),
		transfer.WithProgress(a.progress()),
	)
	l := lister.New(store, lister.WithLimit(a.cfg.ListLimit), lister.WithLogger(a.logger))

	ignoreRoot := local
	if info, err := fsys.Stat(local); err == nil && !info.IsDir() {
		ignoreRoot = filepath.Dir(local)
	}
	ignore, err := sync.NewIgnoreList(fsys, ignoreRoot, a.cfg.Exclude)
	if err != nil {
		return nil, nil, err
	}

	planner := sync.NewPlanner(store, l, fsys, sync.PlannerOptions{
		Overwrite:   a.cfg.Overwrite,
		MtimeRule:   a.cfg.MtimeRule,
		DeleteExtra: a.cfg.DeleteExtra,
		Ignore:      ignore,
		Logger:      a.logger,
	})

	journal, err := a.journal()
	if err != nil {
		return nil, nil, err
	}

	executor := sync.NewExecutor(store, engine, fsys, sync.ExecutorOptions{
		Jobs:            a.cfg.Jobs,
		ContinueOnError: a.cfg.ContinueOnError,
		DryRun:          a.cfg.DryRun,
		Retry:           a.cfg.RetryPolicy(),
		Journal:         journal,
		Logger:          a.logger,
		Out:             a.out,
	})
	return sync.NewRunner(planner, executor, a.logger), ignore, nil
}

// journal opens the history database, nil when disabled
func (a *app) journal() (*sync.Journal, error) {
	if a.cfg.Journal == "" {
		return nil, nil
	}
	p, err := utils.ResolvePath(a.cfg.Journal)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureParent(p); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}

	j := sync.NewJournal(p)
	if err := j.Open(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, j.Close)
	return j, nil
}

// lock takes the per-path lock on local
func (a *app) lock(local string) error {
	lockDir, err := utils.ResolvePath(config.DefaultLockDir)
	if err != nil {
		return err
	}
	l, err := session.NewLock(lockDir, local)
	if err != nil {
		return err
	}
	if err := l.TryLock(); err != nil {
		return err
	}
	a.logger.Debug("lock acquired", "path", l.Path())
	a.closers = append(a.closers, l.Unlock)
	return nil
}

// pathArgs returns the two positional paths, falling back to the config
func (a *app) pathArgs(args []string, localFirst bool) (local, remote string) {
	local, remote = a.cfg.LocalPath, a.cfg.PanPath
	if len(args) == 2 {
		if localFirst {
			local, remote = args[0], args[1]
		} else {
			remote, local = args[0], args[1]
		}
	}
	return local, storage.CleanPath(remote)
}

func (a *app) printReport(rep *sync.Report) {
	if rep == nil {
		return
	}
	fmt.Fprintln(a.out, gray.Render(fmt.Sprintf(
		"created=%d overwritten=%d rapid=%d skipped=%d deleted=%d mkdirs=%d failed=%d bytes=%s",
		rep.Created, rep.Overwritten, rep.Rapid, rep.Skipped, rep.Deleted, rep.Mkdirs, rep.Failed,
		humanize.IBytes(uint64(rep.Bytes)),
	)))
	for _, err := range rep.Errors {
		fmt.Fprintln(a.out, red.Render("  "+err.Error()))
	}
}

func (a *app) done(rep *sync.Report, err error) error {
	a.printReport(rep)
	if err != nil {
		return err
	}
	if rep != nil && rep.Failed > 0 {
		return fmt.Errorf("%d entries failed", rep.Failed)
	}
	fmt.Fprintln(a.out, green.Render("all done!"))
	return nil
}

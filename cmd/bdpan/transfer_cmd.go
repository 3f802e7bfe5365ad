package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gobdpan/bdpan/internal/sync"
)

// pathsArgs accepts both paths or none, in which case the config supplies them
func pathsArgs(cmd *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
	}
	return nil
}

func newUploadCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload [local_path pan_path]",
		Short: "Upload a local file or directory tree to the pan",
		Args:  pathsArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionUpload, args)
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "keep running and upload again on local changes")
	return cmd
}

func newDownloadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "download [pan_path local_path]",
		Short: "Download a pan file or directory tree",
		Args:  pathsArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionDownload, args)
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [local_path pan_path]",
		Short: "Download then upload so that both sides hold the newest files",
		Args:  pathsArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionSync, args)
		},
	}
}

func runUpload(ctx context.Context, a *app, args []string) error {
	localArg, remote := a.pathArgs(args, true)
	fsys, local, err := localRoot(localArg)
	if err != nil {
		return err
	}
	if err := a.lock(local); err != nil {
		return err
	}
	runner, ignore, err := a.runner(ctx, fsys, local)
	if err != nil {
		return err
	}

	if !a.v.GetBool(keyWatch) {
		rep, err := runner.Upload(ctx, local, remote)
		return a.done(rep, err)
	}

	info, err := fsys.Stat(local)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("--watch needs a local directory")
	}
	fmt.Fprintln(a.out, cyan.Render("watching "+local+", press ctrl-c to stop"))
	return runner.WatchUpload(ctx, local, remote, sync.WatchOptions{
		Dir:    local,
		Ignore: ignore,
		OnPass: func(rep *sync.Report, err error) {
			a.printReport(rep)
			if err != nil {
				a.logger.Error("upload pass failed", "error", err)
			}
		},
	})
}

func runDownload(ctx context.Context, a *app, args []string) error {
	localArg, remote := a.pathArgs(args, false)
	fsys, local, err := localRoot(localArg)
	if err != nil {
		return err
	}
	if err := a.lock(local); err != nil {
		return err
	}
	runner, _, err := a.runner(ctx, fsys, local)
	if err != nil {
		return err
	}
	rep, err := runner.Download(ctx, remote, local)
	return a.done(rep, err)
}

func runSync(ctx context.Context, a *app, args []string) error {
	localArg, remote := a.pathArgs(args, true)
	fsys, local, err := localRoot(localArg)
	if err != nil {
		return err
	}
	if err := a.lock(local); err != nil {
		return err
	}
	runner, _, err := a.runner(ctx, fsys, local)
	if err != nil {
		return err
	}
	rep, err := runner.Sync(ctx, local, remote)
	return a.done(rep, err)
}

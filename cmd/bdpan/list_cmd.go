package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gobdpan/bdpan/internal/lister"
	"github.com/gobdpan/bdpan/internal/storage"
)

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list [pan_path]",
		Aliases: []string{"ls"},
		Short:   "List a pan directory",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionList, args)
		},
	}
	cmd.Flags().BoolP("recursive", "r", false, "list the whole tree")
	return cmd
}

func runList(ctx context.Context, a *app, args []string) error {
	remote := a.cfg.PanPath
	if len(args) == 1 {
		remote = args[0]
	}
	remote = storage.CleanPath(remote)

	store, err := a.store(ctx)
	if err != nil {
		return err
	}
	l := lister.New(store, lister.WithLimit(a.cfg.ListLimit), lister.WithLogger(a.logger))

	if a.v.GetBool(keyRecursive) {
		return l.Walk(ctx, remote, func(e *storage.Entry) error {
			printEntry(a.out, e, e.Path)
			return nil
		})
	}

	entries, err := l.List(ctx, remote, false)
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(a.out, e, e.Name())
	}
	return nil
}

func printEntry(w io.Writer, e *storage.Entry, name string) {
	kind, size := "F", humanize.IBytes(e.Size)
	if e.IsDir {
		kind, size = cyan.Render("D"), "-"
		name = cyan.Render(name + "/")
	}
	fmt.Fprintf(w, "%s %10s  %s  %s\n", kind, size, gray.Render(e.Mtime.Local().Format("2006-01-02 15:04:05")), name)
}

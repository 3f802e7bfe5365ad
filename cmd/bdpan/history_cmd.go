package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gobdpan/bdpan/internal/sync"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently executed transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionHistory, args)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of records")
	return cmd
}

func runHistory(ctx context.Context, a *app, args []string) error {
	journal, err := a.journal()
	if err != nil {
		return err
	}
	if journal == nil {
		return errors.New("history is disabled, set journal to a database path")
	}

	records, err := journal.Recent(a.v.GetInt(keyHistoryLimit))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, gray.Render("no history yet"))
		return nil
	}

	for _, rec := range records {
		status := green.Render(rec.Status)
		if rec.Status != sync.StatusOK {
			status = red.Render(rec.Status)
		}
		fmt.Fprintf(a.out, "%s  %-9s %-8s %-6s %8s  %s\n",
			gray.Render(rec.CreatedAt.Local().Format("2006-01-02 15:04:05")),
			rec.Direction, rec.Action, status, humanize.IBytes(uint64(rec.Size)), rec.Path)
		if rec.Error != "" {
			fmt.Fprintln(a.out, red.Render("    "+rec.Error))
		}
	}
	return nil
}

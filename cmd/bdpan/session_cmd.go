package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAction(cmd, ActionLogout, args)
		},
	}
}

func runLogout(ctx context.Context, a *app, args []string) error {
	provider, err := a.sessionProvider()
	if err != nil {
		return err
	}
	if err := provider.Remove(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, green.Render("logged out, removed "+provider.Path()))
	return nil
}

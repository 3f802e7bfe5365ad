package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

// Action names what an invocation does. Subcommands and the config file's
// "action" key resolve through the same table.
type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
	ActionSync     Action = "sync"
	ActionList     Action = "list"
	ActionLogout   Action = "logout"
	ActionHistory  Action = "history"
)

type actionFunc func(ctx context.Context, a *app, args []string) error

var actions = map[Action]actionFunc{
	ActionUpload:   runUpload,
	ActionDownload: runDownload,
	ActionSync:     runSync,
	ActionList:     runList,
	ActionLogout:   runLogout,
	ActionHistory:  runHistory,
}

func actionNames() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, string(name))
	}
	slices.Sort(names)
	return names
}

func resolveAction(name Action) (actionFunc, error) {
	fn, ok := actions[Action(strings.ToLower(string(name)))]
	if !ok {
		return nil, fmt.Errorf("unknown action %q (want one of %s)", name, strings.Join(actionNames(), ", "))
	}
	return fn, nil
}

// validateActions checks that every action has a subcommand and every
// subcommand other than the built-in ones has an action
func validateActions(root *cobra.Command) error {
	commands := map[string]bool{}
	for _, c := range root.Commands() {
		commands[c.Name()] = true
		switch c.Name() {
		case "version", "help", "completion":
			continue
		}
		if _, ok := actions[Action(c.Name())]; !ok {
			return fmt.Errorf("command %q has no action", c.Name())
		}
	}
	for _, name := range actionNames() {
		if !commands[name] {
			return fmt.Errorf("action %q has no command", name)
		}
	}
	return nil
}

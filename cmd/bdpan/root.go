package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gobdpan/bdpan/internal/config"
	"github.com/gobdpan/bdpan/internal/version"
)

// keys only the command line and config file use
const (
	keyWatch        = "watch"
	keyRecursive    = "recursive"
	keyHistoryLimit = "history_limit"
	keyVerbose      = "verbose"
)

// flag name to viper key, for flags that differ
var flagKeys = map[string]string{
	"conf":              "",
	"access-token":      config.KeyAccessToken,
	"app-id":            config.KeyAppID,
	"session":           config.KeySession,
	"backend":           config.KeyBackend,
	"xpan-url":          config.KeyXpanURL,
	"pcs-url":           config.KeyPcsURL,
	"log-file":          config.KeyLogFile,
	"overwrite":         config.KeyOverwrite,
	"mtime-rule":        config.KeyMtimeRule,
	"delete-extra":      config.KeyDeleteExtra,
	"jobs":              config.KeyJobs,
	"continue-on-error": config.KeyContinueOnError,
	"dry-run":           config.KeyDryRun,
	"exclude":           config.KeyExclude,
	"block-size":        config.KeyBlockSize,
	"list-limit":        config.KeyListLimit,
	"retry-count":       config.KeyRetryCount,
	"retry-delay":       config.KeyRetryDelay,
	"journal":           config.KeyJournal,
	"verbose":           keyVerbose,
	"watch":             keyWatch,
	"recursive":         keyRecursive,
	"limit":             keyHistoryLimit,
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)
	v.SetDefault(keyHistoryLimit, 20)
	a := &app{v: v}

	rootCmd := &cobra.Command{
		Use:   "bdpan",
		Short: "Baidu Pan command line sync client",
		Long: "bdpan uploads, downloads and synchronizes directory trees with Baidu Pan.\n" +
			"Without a subcommand it runs the action named in the config file.",
		Version:       version.Detailed(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Action == "" {
				return cmd.Help()
			}
			return a.runAction(cmd, Action(a.cfg.Action), args)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("conf", "c", config.DefaultConfigPath, "config file")
	flags.String("access-token", "", "access token, stored in the session file for later runs")
	flags.String("app-id", "", "pan app id")
	flags.String("session", "", "session file")
	flags.String("backend", "", "remote backend: pan or s3")
	flags.String("xpan-url", "", "pan metadata API base URL")
	flags.String("pcs-url", "", "pan content API base URL")
	flags.String("log-file", "", "also write logs to this file")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("overwrite", "", "overwrite policy: none, mtime or force")
	flags.String("mtime-rule", "", "mtime comparison: newer or differ")
	flags.Bool("delete-extra", false, "delete destination entries missing from the source")
	flags.IntP("jobs", "j", 0, "file transfers run at once within a directory")
	flags.Bool("continue-on-error", false, "skip failed subtrees instead of stopping")
	flags.Bool("dry-run", false, "print the plan without executing it")
	flags.StringSlice("exclude", nil, "doublestar patterns of local paths to leave out")
	flags.Int64("block-size", 0, "upload block size in bytes")
	flags.Int("list-limit", 0, "entries per remote listing page")
	flags.Int("retry-count", 0, "attempts per remote call")
	flags.Duration("retry-delay", 0, "delay between attempts")
	flags.String("journal", "", "history database, empty to disable")

	rootCmd.AddCommand(
		newUploadCmd(a),
		newDownloadCmd(a),
		newSyncCmd(a),
		newListCmd(a),
		newLogoutCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// bindFlags binds every flag of cmd that has a config key
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		if key == "" {
			continue
		}
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Package config loads the typed client configuration from the config file,
// the BDPAN_ environment, a .env file and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/gobdpan/bdpan/internal/hasher"
	"github.com/gobdpan/bdpan/internal/lister"
	"github.com/gobdpan/bdpan/internal/retry"
	"github.com/gobdpan/bdpan/internal/session"
	"github.com/gobdpan/bdpan/internal/storage/s3store"
	"github.com/gobdpan/bdpan/internal/transfer"
)

const (
	EnvPrefix = "BDPAN"

	BackendPan = "pan"
	BackendS3  = "s3"

	maxListLimit = 10000
)

var (
	DefaultConfigPath  = filepath.Join(session.DefaultDir, "config.json")
	DefaultJournalPath = filepath.Join(session.DefaultDir, "history.db")
	DefaultLockDir     = filepath.Join(session.DefaultDir, "locks")
)

// viper keys
const (
	KeyAction          = "action"
	KeyPanPath         = "pan_path"
	KeyLocalPath       = "local_path"
	KeySession         = "session"
	KeyAccessToken     = "access_token"
	KeyAppID           = "app_id"
	KeyOverwrite       = "overwrite"
	KeyMtimeRule       = "mtime_rule"
	KeyDeleteExtra     = "delete_extra"
	KeyLogFile         = "log_file"
	KeyBlockSize       = "block_size"
	KeyListLimit       = "list_limit"
	KeyRetryCount      = "retry_count"
	KeyRetryDelay      = "retry_delay"
	KeyJobs            = "jobs"
	KeyContinueOnError = "continue_on_error"
	KeyDryRun          = "dry_run"
	KeyExclude         = "exclude"
	KeyJournal         = "journal"
	KeyBackend         = "backend"
	KeyXpanURL         = "xpan_url"
	KeyPcsURL          = "pcs_url"
	KeyS3              = "s3"
)

type Config struct {
	Path string `json:"-"` // config file in use, empty when none

	Action    string
	PanPath   string
	LocalPath string

	SessionPath string
	AccessToken string
	AppID       string

	Overwrite   transfer.OverwritePolicy
	MtimeRule   transfer.MtimeRule
	DeleteExtra bool

	LogFile string

	BlockSize  int64
	ListLimit  int
	RetryCount int
	RetryDelay time.Duration
	Jobs       int

	ContinueOnError bool
	DryRun          bool
	Exclude         []string
	Journal         string

	Backend string
	XpanURL string
	PcsURL  string
	S3      s3store.Config
}

// SetDefaults registers the default of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPanPath, "/")
	v.SetDefault(KeyLocalPath, ".")
	v.SetDefault(KeySession, session.DefaultPath)
	v.SetDefault(KeyOverwrite, string(transfer.OverwriteNone))
	v.SetDefault(KeyMtimeRule, string(transfer.MtimeNewer))
	v.SetDefault(KeyBlockSize, hasher.DefaultBlockSize)
	v.SetDefault(KeyListLimit, lister.DefaultLimit)
	v.SetDefault(KeyRetryCount, retry.DefaultMaxAttempts)
	v.SetDefault(KeyRetryDelay, retry.DefaultDelay)
	v.SetDefault(KeyJobs, 1)
	v.SetDefault(KeyJournal, DefaultJournalPath)
	v.SetDefault(KeyBackend, BackendPan)
}

// ReadInConfig reads the config file at path, or the default one. Missing
// files are not an error. A .env file in the working directory is loaded
// into the environment first.
func ReadInConfig(v *viper.Viper, path string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return fmt.Errorf("config read '%s': %w", path, err)
		}
	}
	return nil
}

// Load builds and validates the typed config from v
func Load(v *viper.Viper) (*Config, error) {
	overwrite, err := transfer.ParseOverwritePolicy(v.GetString(KeyOverwrite))
	if err != nil {
		return nil, err
	}
	rule, err := transfer.ParseMtimeRule(v.GetString(KeyMtimeRule))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Path:            v.ConfigFileUsed(),
		Action:          v.GetString(KeyAction),
		PanPath:         v.GetString(KeyPanPath),
		LocalPath:       v.GetString(KeyLocalPath),
		SessionPath:     v.GetString(KeySession),
		AccessToken:     v.GetString(KeyAccessToken),
		AppID:           v.GetString(KeyAppID),
		Overwrite:       overwrite,
		MtimeRule:       rule,
		DeleteExtra:     v.GetBool(KeyDeleteExtra),
		LogFile:         v.GetString(KeyLogFile),
		BlockSize:       v.GetInt64(KeyBlockSize),
		ListLimit:       v.GetInt(KeyListLimit),
		RetryCount:      v.GetInt(KeyRetryCount),
		RetryDelay:      v.GetDuration(KeyRetryDelay),
		Jobs:            v.GetInt(KeyJobs),
		ContinueOnError: v.GetBool(KeyContinueOnError),
		DryRun:          v.GetBool(KeyDryRun),
		Exclude:         v.GetStringSlice(KeyExclude),
		Journal:         v.GetString(KeyJournal),
		Backend:         strings.ToLower(v.GetString(KeyBackend)),
		XpanURL:         v.GetString(KeyXpanURL),
		PcsURL:          v.GetString(KeyPcsURL),
	}
	if err := v.UnmarshalKey(KeyS3, &cfg.S3); err != nil {
		return nil, fmt.Errorf("config s3: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PanPath == "" || !strings.HasPrefix(c.PanPath, "/") {
		return fmt.Errorf("%s must be an absolute remote path, got %q", KeyPanPath, c.PanPath)
	}
	if c.LocalPath == "" {
		return fmt.Errorf("%s is required", KeyLocalPath)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyBlockSize, c.BlockSize)
	}
	if c.ListLimit <= 0 || c.ListLimit > maxListLimit {
		return fmt.Errorf("%s must be within 1..%d, got %d", KeyListLimit, maxListLimit, c.ListLimit)
	}
	if c.RetryCount < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyRetryCount, c.RetryCount)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%s cannot be negative", KeyRetryDelay)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyJobs, c.Jobs)
	}

	switch c.Backend {
	case BackendPan:
	case BackendS3:
		if err := c.S3.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown %s %q (want %s or %s)", KeyBackend, c.Backend, BackendPan, BackendS3)
	}
	return nil
}

// RetryPolicy is the fixed-delay policy the retry keys describe. Retryable is
// left to the caller.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryCount,
		Backoff:     retry.Fixed(c.RetryDelay),
	}
}

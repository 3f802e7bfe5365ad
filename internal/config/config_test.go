package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobdpan/bdpan/internal/hasher"
	"github.com/gobdpan/bdpan/internal/transfer"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "/", cfg.PanPath)
	assert.Equal(t, transfer.OverwriteNone, cfg.Overwrite)
	assert.Equal(t, transfer.MtimeNewer, cfg.MtimeRule)
	assert.Equal(t, int64(hasher.DefaultBlockSize), cfg.BlockSize)
	assert.Equal(t, 5000, cfg.ListLimit)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, 10*time.Second, cfg.RetryDelay)
	assert.Equal(t, 1, cfg.Jobs)
	assert.Equal(t, BackendPan, cfg.Backend)

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.Backoff(1))
}

func TestReadInConfig_File(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"action": "upload",
		"pan_path": "/apps/bdpan",
		"local_path": "/data",
		"overwrite": "mtime",
		"mtime_rule": "differ",
		"delete_extra": true,
		"retry_delay": "2s",
		"jobs": 4,
		"exclude": ["*.tmp", "**/cache"],
		"backend": "s3",
		"s3": {"bucket": "b", "region": "us-east-1", "prefix": "pan"}
	}`), 0o644))

	v := newViper(t)
	require.NoError(t, ReadInConfig(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "upload", cfg.Action)
	assert.Equal(t, "/apps/bdpan", cfg.PanPath)
	assert.Equal(t, transfer.OverwriteMtime, cfg.Overwrite)
	assert.Equal(t, transfer.MtimeDiffer, cfg.MtimeRule)
	assert.True(t, cfg.DeleteExtra)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 4, cfg.Jobs)
	assert.Equal(t, []string{"*.tmp", "**/cache"}, cfg.Exclude)
	assert.Equal(t, "b", cfg.S3.Bucket)
	assert.Equal(t, "pan", cfg.S3.Prefix)
}

func TestReadInConfig_MissingFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BDPAN_JOBS=3\n"), 0o644))
	t.Setenv("BDPAN_OVERWRITE", "force")
	t.Cleanup(func() { os.Unsetenv("BDPAN_JOBS") })

	v := newViper(t)
	require.NoError(t, ReadInConfig(v, filepath.Join(dir, "missing.json")))
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, transfer.OverwriteForce, cfg.Overwrite)
	assert.Equal(t, 3, cfg.Jobs)
}

func TestReadInConfig_Malformed(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	assert.Error(t, ReadInConfig(newViper(t), path))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  any
	}{
		{"relative pan path", KeyPanPath, "apps"},
		{"zero block size", KeyBlockSize, 0},
		{"list limit too large", KeyListLimit, 20000},
		{"no retry", KeyRetryCount, 0},
		{"no jobs", KeyJobs, 0},
		{"bad backend", KeyBackend, "ftp"},
		{"s3 without bucket", KeyBackend, "s3"},
		{"bad overwrite", KeyOverwrite, "sometimes"},
		{"bad mtime rule", KeyMtimeRule, "older"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tc.key, tc.val)
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}

package main

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobdpan/bdpan/internal/panfake"
	"github.com/gobdpan/bdpan/internal/storage/memstore"
)

const testToken = "cli-token"

type cliEnv struct {
	home  string
	store *memstore.Store
	env   []string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("runs the CLI in a subprocess")
	}

	store := memstore.New()
	srv := httptest.NewServer(panfake.New(store, panfake.WithAccessToken(testToken)).Handler())
	t.Cleanup(srv.Close)

	return &cliEnv{
		home:  t.TempDir(),
		store: store,
		env: []string{
			"BDPAN_XPAN_URL=" + srv.URL + panfake.XpanPrefix,
			"BDPAN_PCS_URL=" + srv.URL + panfake.PcsPrefix,
			"BDPAN_RETRY_DELAY=10ms",
		},
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, int) {
	t.Helper()
	return runCLI(t, e.home, e.env, args...)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestCLI_UploadListDownload(t *testing.T) {
	e := newCLIEnv(t)
	local := filepath.Join(e.home, "src")
	writeTree(t, local, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo bravo",
	})

	out, code := e.run(t, "upload", "--access-token", testToken, local, "/r")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "all done!")

	data, ok := e.store.ReadFile("/r/a.txt")
	require.True(t, ok)
	assert.Equal(t, "alpha", string(data))
	data, ok = e.store.ReadFile("/r/sub/b.txt")
	require.True(t, ok)
	assert.Equal(t, "bravo bravo", string(data))

	// the token is now in the session file
	_, err := os.Stat(filepath.Join(e.home, ".bdpan", "session.json"))
	require.NoError(t, err)

	out, code = e.run(t, "list", "/r")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "sub/")

	out, code = e.run(t, "list", "-r", "/r")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "/r/sub/b.txt")

	dst := filepath.Join(e.home, "dst")
	out, code = e.run(t, "download", "/r", dst)
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "all done!")

	got, err := os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bravo bravo", string(got))

	out, code = e.run(t, "history", "-n", "10")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "/r/a.txt")
}

func TestCLI_SecondUploadSkips(t *testing.T) {
	e := newCLIEnv(t)
	local := filepath.Join(e.home, "src")
	writeTree(t, local, map[string]string{"a.txt": "alpha"})

	out, code := e.run(t, "upload", "--access-token", testToken, local, "/r")
	require.Equal(t, 0, code, out)
	uploaded := e.store.BytesUploaded()

	out, code = e.run(t, "upload", local, "/r")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "skipped=1")
	assert.Equal(t, uploaded, e.store.BytesUploaded())
}

func TestCLI_DryRunChangesNothing(t *testing.T) {
	e := newCLIEnv(t)
	local := filepath.Join(e.home, "src")
	writeTree(t, local, map[string]string{"a.txt": "alpha"})

	out, code := e.run(t, "upload", "--access-token", testToken, "--dry-run", local, "/r")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "/r/a.txt")

	_, ok := e.store.ReadFile("/r/a.txt")
	assert.False(t, ok)
}

func TestCLI_ConfigAction(t *testing.T) {
	e := newCLIEnv(t)
	e.store.PutFile("/cfg/x.bin", []byte("from config"), time.Unix(1_700_000_000, 0))

	dst := filepath.Join(e.home, "out")
	conf := filepath.Join(e.home, "bdpan.json")
	require.NoError(t, os.WriteFile(conf, []byte(`{
		"action": "download",
		"pan_path": "/cfg",
		"local_path": "`+filepath.ToSlash(dst)+`",
		"access_token": "`+testToken+`"
	}`), 0o644))

	out, code := e.run(t, "-c", conf)
	require.Equal(t, 0, code, out)

	got, err := os.ReadFile(filepath.Join(dst, "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, "from config", string(got))

	info, err := os.Stat(filepath.Join(dst, "x.bin"))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0), info.ModTime().Truncate(time.Second))
}

func TestCLI_Failures(t *testing.T) {
	e := newCLIEnv(t)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no session", []string{"list", "/"}, "fail due to"},
		{"wrong token", []string{"list", "--access-token", "nope", "/"}, "fail due to"},
		{"bad overwrite", []string{"list", "--overwrite", "sometimes"}, "fail due to"},
		{"missing config prints help", []string{"-c", "missing.json"}, ""},
		{"one path", []string{"upload", "only-one"}, "fail due to"},
		{"missing local", []string{"upload", "--access-token", testToken, filepath.Join(e.home, "nope"), "/r"}, "fail due to"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, code := e.run(t, tc.args...)
			if tc.want == "" {
				// no action configured prints the help
				assert.Equal(t, 0, code, out)
				assert.Contains(t, out, "Usage:")
				return
			}
			assert.Equal(t, 1, code, out)
			assert.Contains(t, out, tc.want)
		})
	}
}

func TestCLI_Logout(t *testing.T) {
	e := newCLIEnv(t)

	out, code := e.run(t, "list", "--access-token", testToken, "/")
	require.Equal(t, 0, code, out)

	out, code = e.run(t, "logout")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "logged out")

	out, code = e.run(t, "list", "/")
	assert.Equal(t, 1, code, out)
	assert.Contains(t, out, "fail due to")
}

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobdpan/bdpan/internal/version"
)

func TestVersionCommand_PrintsDetailedVersion(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"version"}, &out, &out)
	require.Equal(t, 0, code)
	assert.Equal(t, version.Detailed(), strings.TrimSpace(out.String()))
}

func TestValidateActions(t *testing.T) {
	require.NoError(t, validateActions(newRootCmd()))

	root := newRootCmd()
	root.AddCommand(&cobra.Command{Use: "bogus"})
	assert.ErrorContains(t, validateActions(root), `command "bogus" has no action`)

	root = &cobra.Command{Use: "bdpan"}
	root.AddCommand(newVersionCmd())
	assert.ErrorContains(t, validateActions(root), "has no command")
}

func TestResolveAction(t *testing.T) {
	cases := []struct {
		name    Action
		wantErr bool
	}{
		{ActionUpload, false},
		{ActionDownload, false},
		{ActionSync, false},
		{ActionList, false},
		{"LOGOUT", false},
		{ActionHistory, false},
		{"delete", true},
		{"", true},
	}

	for _, tc := range cases {
		t.Run(string(tc.name), func(t *testing.T) {
			fn, err := resolveAction(tc.name)
			if tc.wantErr {
				assert.ErrorContains(t, err, "unknown action")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, fn)
		})
	}
}

func TestPathsArgs(t *testing.T) {
	assert.NoError(t, pathsArgs(nil, nil))
	assert.NoError(t, pathsArgs(nil, []string{"a", "/b"}))
	assert.Error(t, pathsArgs(nil, []string{"a"}))
	assert.Error(t, pathsArgs(nil, []string{"a", "b", "c"}))
}

func TestRun_UnknownFlagFails(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"version", "--no-such-flag"}, &out, &out)
	assert.Equal(t, 1, code)
	assert.Contains(t, stripANSI(out.String()), "fail due to")
}

package sync

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreList_Rules(t *testing.T) {
	fsys := memfs.New()

	ignore, err := NewIgnoreList(fsys, "/", nil)
	require.NoError(t, err)
	for _, rel := range []string{"docs/.DS_Store", "big.iso.part", "notes.txt~", "a.swp", "docs/report.pdf", ""} {
		assert.False(t, ignore.ShouldIgnore(rel), rel)
	}

	require.NoError(t, util.WriteFile(fsys, IgnoreFileName, []byte("# build output\nbuild/\n*.o\n"), 0o644))
	ignore, err = NewIgnoreList(fsys, "/", []string{"**/*.tmp", "cache"})
	require.NoError(t, err)

	cases := map[string]bool{
		"build/out.bin":  true,
		"src/main.o":     true,
		"a/b/c.tmp":      true,
		"x/cache":        true,
		"src/main.c":     false,
		"notes/building": false,
		IgnoreFileName:   false,
	}
	for rel, want := range cases {
		assert.Equal(t, want, ignore.ShouldIgnore(rel), rel)
	}
}

func TestIgnoreList_Nil(t *testing.T) {
	var ignore *IgnoreList
	assert.False(t, ignore.ShouldIgnore("anything"))
}

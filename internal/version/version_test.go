package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restoreVersion(t *testing.T) {
	t.Helper()
	v, r, d := Version, Revision, BuildDate
	t.Cleanup(func() {
		Version, Revision, BuildDate = v, r, d
	})
}

func TestVersionStrings(t *testing.T) {
	assert.NotEmpty(t, Version)
	assert.NotEmpty(t, Revision)

	assert.Contains(t, Short(), Version)
	assert.True(t, strings.HasPrefix(ShortWithApp(), AppName+" "))
	assert.Contains(t, Detailed(), "/")
}

func TestApplyBuildInfo_FromVCS(t *testing.T) {
	restoreVersion(t)
	Version, Revision, BuildDate = devVersion, "HEAD", ""

	applyBuildInfo("v1.2.3", map[string]string{
		"vcs.revision": "abc123",
		"vcs.modified": "true",
		"vcs.time":     "2025-12-12T01:00:00Z",
	})

	assert.Equal(t, "1.2.3", Version)
	assert.Equal(t, "abc123-dirty", Revision)
	assert.Equal(t, "2025-12-12T01:00:00Z", BuildDate)
}

func TestApplyBuildInfo_KeepsLdflags(t *testing.T) {
	restoreVersion(t)
	Version, Revision, BuildDate = "2.0.0", "deadbeef", "yesterday"

	applyBuildInfo("(devel)", map[string]string{"vcs.revision": "abc123", "vcs.time": "now"})

	assert.Equal(t, "2.0.0", Version)
	assert.Equal(t, "deadbeef", Revision)
	assert.Equal(t, "yesterday", BuildDate)
}

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_RoundTrip(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "nested", "session.json"))
	require.NoError(t, err)

	_, err = p.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, p.Save(&Session{AccessToken: "tok", AppID: "42"}))

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, "42", s.AppID)
	assert.False(t, s.CreatedAt.IsZero())

	require.NoError(t, p.Remove())
	require.NoError(t, p.Remove())
	_, err = p.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFileProvider_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	p, err := NewFileProvider(path)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Save(&Session{}), ErrNoSession)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = p.Load()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":""}`), 0o600))
	_, err = p.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestResolve(t *testing.T) {
	p, err := NewFileProvider(filepath.Join(t.TempDir(), "session.json"))
	require.NoError(t, err)

	_, err = Resolve(p, "", "", "")
	assert.ErrorIs(t, err, ErrNoSession)

	s, err := Resolve(p, "fresh", "1", "dev")
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.AccessToken)

	s, err = Resolve(p, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.AccessToken)
	assert.Equal(t, "dev", s.DeviceID)
}

func TestLock(t *testing.T) {
	lockDir := t.TempDir()
	target := t.TempDir()

	first, err := NewLock(lockDir, target)
	require.NoError(t, err)
	second, err := NewLock(lockDir, target+string(filepath.Separator))
	require.NoError(t, err)
	assert.Equal(t, first.Path(), second.Path())

	require.NoError(t, first.TryLock())
	assert.ErrorIs(t, second.TryLock(), ErrLocked)

	// not held, nothing to do
	require.NoError(t, second.Unlock())
	assert.FileExists(t, first.Path())

	require.NoError(t, first.Unlock())
	assert.NoFileExists(t, first.Path())

	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())

	other, err := NewLock(lockDir, t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, first.Path(), other.Path())
}

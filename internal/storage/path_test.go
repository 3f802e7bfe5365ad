package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanPath(t *testing.T) {
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/", CleanPath("/"))
	assert.Equal(t, "/a/b", CleanPath("a/b/"))
	assert.Equal(t, "/a/b", CleanPath("\\a\\b"))
	assert.Equal(t, "/a/c", CleanPath("/a/b/../c"))
}

func TestSplit(t *testing.T) {
	dir, base := Split("/r/b/y.txt")
	assert.Equal(t, "/r/b", dir)
	assert.Equal(t, "y.txt", base)

	dir, base = Split("/")
	assert.Equal(t, "/", dir)
	assert.Equal(t, "", base)
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin("/r/b/y.txt", "/r/b"))
	assert.True(t, IsWithin("/r/b", "/r/b"))
	assert.True(t, IsWithin("/anything", "/"))
	assert.False(t, IsWithin("/r/bb", "/r/b"))
	assert.False(t, IsWithin("/r", "/r/b"))
}

package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory(t *testing.T) {
	database, err := NewSqliteDB(WithMaxOpenConns(1))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	_, err = database.Exec("INSERT INTO t (v) VALUES (?)", "x")
	require.NoError(t, err)

	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM t"))
	assert.Equal(t, 1, count)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestNewSqliteDB_NoPragmas(t *testing.T) {
	database, err := NewSqliteDB(WithPragmas(""))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t2 (id INTEGER PRIMARY KEY)")
	assert.NoError(t, err)
}

func TestNewSqliteDB_SingleConnectionKeepsMemoryDB(t *testing.T) {
	database, err := NewSqliteDB(WithMaxOpenConns(1), WithMaxIdleConns(1))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE kept (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	stats := database.Stats()
	assert.Equal(t, 1, stats.MaxOpenConnections)
	assert.Equal(t, 1, stats.Idle)

	// the idle connection is reused, so the in-memory table is still there
	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM kept"))
	assert.Equal(t, 0, count)
}

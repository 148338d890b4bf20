package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	db, err := Connect("file::memory:?cache=shared")
	require.NoError(t, err)
	assert.NotNil(t, db)

	dbPath := filepath.Join(t.TempDir(), "nested", "argus.db")
	db, err = Connect(dbPath)
	require.NoError(t, err)
	assert.FileExists(t, dbPath)

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)
}

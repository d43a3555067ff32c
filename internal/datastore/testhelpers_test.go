package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupManager creates an initialized SQLite manager in a temp directory.
func setupManager(t *testing.T) *SQLiteManager {
	t.Helper()

	mgr, err := NewSQLiteManager(&SQLiteConfig{Path: filepath.Join(t.TempDir(), "target.db")})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })

	return mgr
}

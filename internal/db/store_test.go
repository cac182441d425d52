package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_ValidationErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		dbPath      string
		expectedErr string
	}{
		{"empty_path", "", "empty database path"},
		{"whitespace_path", "   ", "empty database path"},
		{"tabs_path", "\t\t", "empty database path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(ctx, tt.dbPath)
			assert.Nil(t, store)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestOpen_NestedDirectoryAndPermissions(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "nested", "deep", "mail.db")

	store, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestOpen_ReopenKeepsSchemaVersion(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "existing.db")

	store1, err := Open(ctx, dbPath)
	require.NoError(t, err)
	v1, err := store1.Version(ctx)
	assert.NoError(t, err)
	assert.NoError(t, store1.Close())

	store2, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer store2.Close()
	v2, err := store2.Version(ctx)
	assert.NoError(t, err)

	assert.Equal(t, SchemaVersion, v1)
	assert.Equal(t, v1, v2)
}

func TestMigration_Tables(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	defer store.Close()

	for _, table := range []string{"messages", "mailbox_state"} {
		var name string
		err := store.db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err)
		assert.Equal(t, table, name)
	}

	var index string
	err = store.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_messages_folder_uid'").Scan(&index)
	assert.NoError(t, err)
}

func TestPragmas_Configuration(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "pragmas.db"))
	require.NoError(t, err)
	defer store.Close()

	var journalMode string
	assert.NoError(t, store.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestClose_Nil(t *testing.T) {
	var store *Store
	assert.NoError(t, store.Close())
	assert.NoError(t, (&Store{}).Close())
	assert.Nil(t, store.DB())
}

func TestDB_Getter(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "getter.db"))
	require.NoError(t, err)
	defer store.Close()

	assert.IsType(t, &sql.DB{}, store.DB())
}

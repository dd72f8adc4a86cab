package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(""))
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "data/claims.db?"+sqlitePragmas, sqliteDSN("data/./claims.db"))
	assert.Equal(t, "file:x?mode=ro&"+sqlitePragmas, sqliteDSN("file:x?mode=ro"))
	assert.Equal(t, "x.db?_pragma=foreign_keys(1)", sqliteDSN("x.db?_pragma=foreign_keys(1)"))
}

func TestOpenSqliteInMemory(t *testing.T) {
	db, err := Open(context.Background(), "sqlite", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestLoadDatabaseURLFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("# local\nOTHER=1\nDATABASE_URL=\"postgres://claims@localhost/claims\"\n"), 0o644))

	t.Setenv("DATABASE_URL", "")
	t.Chdir(nested)

	url, err := loadDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "postgres://claims@localhost/claims", url)
}

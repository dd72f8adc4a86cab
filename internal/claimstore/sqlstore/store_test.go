package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claims"
	"github.com/claimflow/internal/claimstore/storetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) claims.Store { return newSQLiteStore(t) })
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	dsn := os.Getenv("CLAIMFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CLAIMFLOW_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) claims.Store {
		s, err := Open(context.Background(), "postgres", dsn)
		require.NoError(t, err)
		_, err = s.db.Exec(`TRUNCATE claim_events, claims`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	var applied int
	require.NoError(t, s.db.Get(&applied, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 1, applied)
}

func TestQueryAwaitingResponsePages(t *testing.T) {
	s := newSQLiteStore(t)
	s.pageSize = 2
	deadline := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	want := map[string]bool{}
	for _, booking := range []string{"b1", "b2", "b3", "b4", "b5"} {
		c := storetest.Awaiting(t, s, booking, deadline)
		want[c.ID] = true
	}

	got := map[string]bool{}
	for c, err := range s.QueryAwaitingResponse(context.Background(), deadline) {
		require.NoError(t, err)
		assert.False(t, got[c.ID], "claim %s yielded twice", c.ID)
		got[c.ID] = true
	}
	assert.Equal(t, want, got)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestExtractUp(t *testing.T) {
	sql := "-- +migrate Up\nCREATE TABLE a (x INT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (x INT);\n", extractUp(sql))
	assert.Equal(t, "SELECT 1", extractUp("SELECT 1"))
}

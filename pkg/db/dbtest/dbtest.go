// Package dbtest opens the PostgreSQL database used by integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// DSNEnv names the variable holding the test database URL.
const DSNEnv = "COUNCIL_TEST_POSTGRES_DSN"

// Pool connects to the test database, or skips the test when none is
// configured or when running with -short. The pool is closed on cleanup.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(context.Background()))
	t.Cleanup(pool.Close)

	return pool
}

// Reset drops every council table so a test starts from an empty schema.
func Reset(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		DROP TABLE IF EXISTS search_documents, offsets, agenda, transcripts,
			meetings, authorities, providers, schema_migrations CASCADE`)
	require.NoError(t, err)
}

package dbschema

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQL_ContainsExpectedTables(t *testing.T) {
	sql := SQL()
	for _, table := range []string{
		"projects", "datasets", "dataset_collections", "indexed_files",
		"file_watchers", "github_jobs", "crawl_sessions", "project_shares",
		"collections_metadata", "web_pages", "chunks", "vector_points",
	} {
		assert.Contains(t, sql, "claude_context."+table)
	}
	assert.Contains(t, sql, "CREATE EXTENSION IF NOT EXISTS vector")
	assert.True(t, strings.Contains(sql, "notify_stats_updates"))
	assert.True(t, strings.Contains(sql, "notify_github_job_updates"))
}

// newTestPool connects to a real PostgreSQL instance when DATABASE_URL
// is set; otherwise the calling test is skipped.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed dbschema test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestMigrate_IsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables
		 WHERE table_schema = 'claude_context' AND table_name = 'indexed_files')`,
	).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists)
}

package crawlsession

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/scope"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed crawlsession test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, dbschema.Migrate(context.Background(), pool))

	scopeMgr := scope.New(pool)
	projectID, _, err := scopeMgr.ResolveProject(context.Background(), "crawlsession-test-project")
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(context.Background(), projectID, "crawlsession-test-dataset", scope.VisibilityProject)
	require.NoError(t, err)

	return New(pool), datasetID
}

func TestStore_CreateThenGet(t *testing.T) {
	store, datasetID := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{DatasetID: datasetID, ExternalID: "ext-1", MaxPages: 50, Depth: 3, StartURL: "https://example.com"})
	require.NoError(t, err)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sess.Status)
	assert.Equal(t, 50, sess.MaxPages)
	assert.Equal(t, "https://example.com", sess.Metadata.StartURL)
}

func TestStore_PatchProgressMergesMetadata(t *testing.T) {
	store, datasetID := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{DatasetID: datasetID, ExternalID: "ext-2", MaxPages: 10, Depth: 1, StartURL: "https://example.com"})
	require.NoError(t, err)

	require.NoError(t, store.PatchProgress(ctx, id, StatusRunning, 3, 0, Metadata{Phase: "crawling", Progress: 30}))

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)
	assert.Equal(t, 3, sess.PagesCrawled)
	assert.Equal(t, "crawling", sess.Metadata.Phase)
	assert.Equal(t, "https://example.com", sess.Metadata.StartURL, "original start url survives an unrelated patch")

	require.NoError(t, store.PatchProgress(ctx, id, StatusCompleted, 10, 0, Metadata{Phase: "done", Progress: 100}))
	sess, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.NotNil(t, sess.CompletedAt)
}

func TestStore_GetByExternalID(t *testing.T) {
	store, datasetID := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{DatasetID: datasetID, ExternalID: "ext-3", MaxPages: 5, Depth: 1})
	require.NoError(t, err)

	sess, err := store.GetByExternalID(ctx, datasetID, "ext-3")
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID)
}

func TestStore_ActiveExcludesTerminalSessions(t *testing.T) {
	store, datasetID := newTestStore(t)
	ctx := context.Background()

	activeID, err := store.Create(ctx, CreateParams{DatasetID: datasetID, ExternalID: "ext-4", MaxPages: 5, Depth: 1})
	require.NoError(t, err)
	doneID, err := store.Create(ctx, CreateParams{DatasetID: datasetID, ExternalID: "ext-5", MaxPages: 5, Depth: 1})
	require.NoError(t, err)
	require.NoError(t, store.PatchProgress(ctx, doneID, StatusCompleted, 5, 0, Metadata{}))

	sessions, err := store.Active(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, activeID)
	assert.NotContains(t, ids, doneID)
}

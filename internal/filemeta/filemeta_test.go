package filemeta

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to a real PostgreSQL instance when DATABASE_URL
// is set; otherwise the calling test is skipped.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed filemeta test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool)
}

func TestStore_UpsertThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, datasetID := uuid.NewString(), uuid.NewString()
	f := File{
		ProjectID:      projectID,
		DatasetID:      datasetID,
		FilePath:       "/repo/a.py",
		RelativePath:   "a.py",
		SHA256Hash:     "abc123",
		FileSize:       42,
		ChunkCount:     3,
		Language:       "python",
		CollectionName: "ds-test",
	}
	require.NoError(t, s.Upsert(ctx, f))

	got, err := s.Get(ctx, projectID, datasetID, "/repo/a.py")
	require.NoError(t, err)
	assert.Equal(t, f.SHA256Hash, got.SHA256Hash)
	assert.Equal(t, f.ChunkCount, got.ChunkCount)
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, datasetID := uuid.NewString(), uuid.NewString()
	f := File{ProjectID: projectID, DatasetID: datasetID, FilePath: "/repo/a.py",
		RelativePath: "a.py", SHA256Hash: "h1", FileSize: 1, ChunkCount: 1, CollectionName: "ds"}

	require.NoError(t, s.Upsert(ctx, f))
	require.NoError(t, s.Upsert(ctx, f))

	all, err := s.GetAll(ctx, projectID, datasetID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_UpdatePath_RenamesWithoutRehash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, datasetID := uuid.NewString(), uuid.NewString()
	f := File{ProjectID: projectID, DatasetID: datasetID, FilePath: "/repo/old.py",
		RelativePath: "old.py", SHA256Hash: "h1", FileSize: 1, ChunkCount: 2, CollectionName: "ds"}
	require.NoError(t, s.Upsert(ctx, f))

	require.NoError(t, s.UpdatePath(ctx, projectID, datasetID, "/repo/old.py", "/repo/new.py", "new.py"))

	got, err := s.Get(ctx, projectID, datasetID, "/repo/new.py")
	require.NoError(t, err)
	assert.Equal(t, "h1", got.SHA256Hash)
	assert.Equal(t, 2, got.ChunkCount)

	_, err = s.Get(ctx, projectID, datasetID, "/repo/old.py")
	assert.Error(t, err)
}

func TestStore_UpdatePath_MissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdatePath(context.Background(), uuid.NewString(), uuid.NewString(), "/nope", "/new", "new")
	assert.Error(t, err)
}

func TestStore_ClearDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, datasetID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.Upsert(ctx, File{ProjectID: projectID, DatasetID: datasetID,
		FilePath: "/repo/a.py", RelativePath: "a.py", SHA256Hash: "h", CollectionName: "ds"}))

	require.NoError(t, s.ClearDataset(ctx, projectID, datasetID))

	all, err := s.GetAll(ctx, projectID, datasetID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_StatsByLanguage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	projectID, datasetID := uuid.NewString(), uuid.NewString()
	require.NoError(t, s.Upsert(ctx, File{ProjectID: projectID, DatasetID: datasetID,
		FilePath: "/a.py", RelativePath: "a.py", SHA256Hash: "h1", ChunkCount: 2, Language: "python", CollectionName: "ds"}))
	require.NoError(t, s.Upsert(ctx, File{ProjectID: projectID, DatasetID: datasetID,
		FilePath: "/b.py", RelativePath: "b.py", SHA256Hash: "h2", ChunkCount: 3, Language: "python", CollectionName: "ds"}))

	stats, err := s.StatsByLanguage(ctx, projectID, datasetID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "python", stats[0].Language)
	assert.Equal(t, 2, stats[0].FileCount)
	assert.Equal(t, 5, stats[0].ChunkCount)
}

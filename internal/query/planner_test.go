package query

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

// newTestPlanner connects to a real PostgreSQL instance when DATABASE_URL
// is set; otherwise the calling test is skipped. Planner.Plan drives
// scope.Manager's actual SQL for project/dataset resolution, which an
// in-memory double cannot meaningfully stand in for.
func newTestPlanner(t *testing.T) (*Planner, *scope.Manager, *vectorstore.MemoryStore, *embedding.MockEmbedder) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed query test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, dbschema.Migrate(context.Background(), pool))

	scopeMgr := scope.New(pool)
	store := vectorstore.NewMemoryStore()
	embedder := embedding.NewMock(8)
	planner := NewPlanner(scopeMgr, store, embedder, nil, nil, nil)
	return planner, scopeMgr, store, embedder
}

func seedDataset(t *testing.T, scopeMgr *scope.Manager, store *vectorstore.MemoryStore, embedder *embedding.MockEmbedder, project, dataset, content string) (projectID, datasetID string) {
	t.Helper()
	ctx := context.Background()

	projectID, _, err := scopeMgr.ResolveProject(ctx, project)
	require.NoError(t, err)
	datasetID, _, err = scopeMgr.ResolveDataset(ctx, projectID, dataset, scope.VisibilityProject)
	require.NoError(t, err)

	collection := scope.CollectionNameFor(projectID, datasetID)
	require.NoError(t, store.CreateCollection(ctx, vectorstore.CollectionSpec{Name: collection, Dimension: embedder.Dimensions()}))

	emb, err := embedder.Embed(ctx, content)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, collection, []vectorstore.Document{{
		ID:     dataset + "-chunk-1",
		Vector: emb.Vector,
		Payload: vectorstore.Payload{
			Content:      content,
			ProjectID:    projectID,
			DatasetID:    datasetID,
			RelativePath: "README.md",
			SourceType:   "code",
		},
	}}))
	return projectID, datasetID
}

func TestPlanner_Plan_UnknownProjectReturnsEmptyResponse(t *testing.T) {
	planner, _, _, _ := newTestPlanner(t)

	resp, err := planner.Plan(context.Background(), Request{Project: "query-test-never-seen", Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotEmpty(t, resp.RequestID)
}

func TestPlanner_Plan_ReturnsMatchFromAccessibleDataset(t *testing.T) {
	planner, scopeMgr, store, embedder := newTestPlanner(t)
	seedDataset(t, scopeMgr, store, embedder, "query-test-project-1", "code", "how to configure the retry policy")

	resp, err := planner.Plan(context.Background(), Request{Project: "query-test-project-1", Query: "retry policy configuration"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "code-chunk-1", resp.Results[0].ChunkID)
	assert.Equal(t, "code", resp.Results[0].Dataset.Dataset)
	assert.Equal(t, "dense", resp.Metadata.RetrievalMethod)
	assert.Equal(t, 1, resp.Metadata.QueriesExecuted)
}

func TestPlanner_Plan_DatasetSelectorExcludesNonMatchingDatasets(t *testing.T) {
	planner, scopeMgr, store, embedder := newTestPlanner(t)
	projectID, _, err := scopeMgr.ResolveProject(context.Background(), "query-test-project-2")
	require.NoError(t, err)
	_ = projectID
	seedDataset(t, scopeMgr, store, embedder, "query-test-project-2", "code", "build pipeline notes")
	seedDataset(t, scopeMgr, store, embedder, "query-test-project-2", "docs", "build pipeline notes")

	resp, err := planner.Plan(context.Background(), Request{
		Project:  "query-test-project-2",
		Datasets: []string{"docs"},
		Query:    "build pipeline notes",
	})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.Equal(t, "docs", r.Dataset.Dataset)
	}
}

func TestPlanner_Plan_DedupesAcrossCollectionsKeepingHighestScore(t *testing.T) {
	planner, scopeMgr, store, embedder := newTestPlanner(t)
	ctx := context.Background()

	projectID, _, err := scopeMgr.ResolveProject(ctx, "query-test-project-3")
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(ctx, projectID, "shared", scope.VisibilityProject)
	require.NoError(t, err)
	collection := scope.CollectionNameFor(projectID, datasetID)
	require.NoError(t, store.CreateCollection(ctx, vectorstore.CollectionSpec{Name: collection, Dimension: embedder.Dimensions()}))

	emb, err := embedder.Embed(ctx, "deployment runbook")
	require.NoError(t, err)
	require.NoError(t, store.Upsert(ctx, collection, []vectorstore.Document{{
		ID:      "dup-chunk",
		Vector:  emb.Vector,
		Payload: vectorstore.Payload{Content: "deployment runbook", ProjectID: projectID, DatasetID: datasetID},
	}}))

	resp, err := planner.Plan(ctx, Request{Project: "query-test-project-3", Query: "deployment runbook"})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, r := range resp.Results {
		assert.False(t, seen[r.ChunkID], "chunk id %s returned more than once", r.ChunkID)
		seen[r.ChunkID] = true
	}
}

func TestPlanner_Plan_TopKLimitsResultCount(t *testing.T) {
	planner, scopeMgr, store, embedder := newTestPlanner(t)
	ctx := context.Background()

	projectID, _, err := scopeMgr.ResolveProject(ctx, "query-test-project-4")
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(ctx, projectID, "large", scope.VisibilityProject)
	require.NoError(t, err)
	collection := scope.CollectionNameFor(projectID, datasetID)
	require.NoError(t, store.CreateCollection(ctx, vectorstore.CollectionSpec{Name: collection, Dimension: embedder.Dimensions()}))

	for i := 0; i < 5; i++ {
		emb, err := embedder.Embed(ctx, "document about topic")
		require.NoError(t, err)
		require.NoError(t, store.Upsert(ctx, collection, []vectorstore.Document{{
			ID:      "doc-" + string(rune('a'+i)),
			Vector:  emb.Vector,
			Payload: vectorstore.Payload{Content: "document about topic", ProjectID: projectID, DatasetID: datasetID},
		}}))
	}

	resp, err := planner.Plan(ctx, Request{Project: "query-test-project-4", Query: "document about topic", TopK: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	require.NoError(t, s.CreateCollection(context.Background(), CollectionSpec{Name: "ds-1", Dimension: 3}))
	return s
}

func TestMemoryStore_UpsertThenSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{ProjectID: "p1", DatasetID: "ds-1", RelativePath: "a.go", Content: "func main"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: Payload{ProjectID: "p1", DatasetID: "ds-1", RelativePath: "b.go", Content: "func other"}},
	}
	require.NoError(t, s.Upsert(ctx, "ds-1", docs))

	results, err := s.SearchVector(ctx, "ds-1", []float32{1, 0, 0}, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.ID)
}

func TestMemoryStore_FilterByDataset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateCollection(ctx, CollectionSpec{Name: "ds-2", Dimension: 3}))

	require.NoError(t, s.Upsert(ctx, "ds-1", []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{ProjectID: "p1", DatasetID: "ds-1"}},
	}))
	require.NoError(t, s.Upsert(ctx, "ds-2", []Document{
		{ID: "b", Vector: []float32{1, 0, 0}, Payload: Payload{ProjectID: "p1", DatasetID: "ds-2"}},
	}))

	results, err := s.SearchVector(ctx, "ds-1", []float32{1, 0, 0}, SearchOptions{Limit: 10, Filter: Filter{DatasetIDs: []string{"ds-1"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Document.ID)
}

func TestMemoryStore_DeleteByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ds-1", []Document{{ID: "a", Vector: []float32{1, 0, 0}}}))

	require.NoError(t, s.DeleteByID(ctx, "ds-1", []string{"a"}))

	count, err := s.Count(ctx, "ds-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_UpdateRelativePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ds-1", []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{RelativePath: "old.go"}},
	}))

	updated, err := s.UpdateRelativePath(ctx, "ds-1", "old.go", "new.go")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	results, err := s.SearchVector(ctx, "ds-1", []float32{1, 0, 0}, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new.go", results[0].Document.Payload.RelativePath)
}

func TestMemoryStore_SearchHybrid_FusesDenseAndKeyword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "ds-1", []Document{
		{ID: "a", Vector: []float32{1, 0, 0}, Payload: Payload{Content: "parse json payload"}},
		{ID: "b", Vector: []float32{0, 1, 0}, Payload: Payload{Content: "render html template"}},
	}))

	results, err := s.SearchHybrid(ctx, "ds-1", "json", []float32{1, 0, 0}, nil, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].Document.ID)
	assert.Equal(t, "hybrid", results[0].Method)
}

func TestMemoryStore_DropAndHasCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasCollection(ctx, "ds-1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, s.DropCollection(ctx, "ds-1"))

	has, err = s.HasCollection(ctx, "ds-1")
	require.NoError(t, err)
	assert.False(t, has)
}

package scope

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionNameFor_Deterministic(t *testing.T) {
	a := CollectionNameFor("proj-1", "ds-1")
	b := CollectionNameFor("proj-1", "ds-1")
	assert.Equal(t, a, b)
}

func TestCollectionNameFor_DistinctInputsNeverCollide(t *testing.T) {
	a := CollectionNameFor("proj-1", "ds-1")
	b := CollectionNameFor("proj-1", "ds-2")
	c := CollectionNameFor("proj-2", "ds-1")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}

func TestCollectionNameFor_HasDeterministicPrefix(t *testing.T) {
	name := CollectionNameFor("proj-1", "ds-1")
	assert.Contains(t, name, "ds-")
	assert.Len(t, name, len("ds-")+16)
}

// newTestManager connects to a real PostgreSQL instance when DATABASE_URL
// is set; otherwise the calling test is skipped. Resolving projects and
// datasets exercises actual SQL against the claude_context schema, which
// an in-memory double cannot meaningfully stand in for.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed scope test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return New(pool)
}

func TestManager_ResolveProject_CreatesOnMiss(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, isGlobal, err := m.ResolveProject(ctx, "scope-test-project")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.False(t, isGlobal)

	again, _, err := m.ResolveProject(ctx, "scope-test-project")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestManager_ResolveDataset_UniquePerProject(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	projectID, _, err := m.ResolveProject(ctx, "scope-test-project-2")
	require.NoError(t, err)

	dsID, scope, err := m.ResolveDataset(ctx, projectID, "code", VisibilityProject)
	require.NoError(t, err)
	assert.NotEmpty(t, dsID)
	assert.Equal(t, VisibilityProject, scope)

	again, _, err := m.ResolveDataset(ctx, projectID, "code", VisibilityProject)
	require.NoError(t, err)
	assert.Equal(t, dsID, again)
}

func TestManager_ShareDataset_RejectsSelfShare(t *testing.T) {
	m := newTestManager(t)
	err := m.ShareDataset(context.Background(), "proj-1", "proj-1", "ds-1", true, false)
	assert.Error(t, err)
}

func TestManager_LookupProject_ReturnsNotOKWithoutCreating(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, ok, err := m.LookupProject(ctx, "scope-test-never-created")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = m.LookupProject(ctx, "scope-test-never-created")
	require.NoError(t, err)
	assert.False(t, ok, "a failed lookup must not provision the project as a side effect")
}

func TestManager_LookupProject_FindsResolvedProject(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, _, err := m.ResolveProject(ctx, "scope-test-lookup-hit")
	require.NoError(t, err)

	found, ok, err := m.LookupProject(ctx, "scope-test-lookup-hit")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found)
}

func TestManager_ListAccessibleDatasets_IncludesOwnedAndShared(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	owner, _, err := m.ResolveProject(ctx, "scope-test-owner")
	require.NoError(t, err)
	other, _, err := m.ResolveProject(ctx, "scope-test-other")
	require.NoError(t, err)

	dsID, _, err := m.ResolveDataset(ctx, owner, "prod", VisibilityProject)
	require.NoError(t, err)
	require.NoError(t, m.ShareDataset(ctx, owner, other, dsID, true, false))

	datasets, err := m.ListAccessibleDatasets(ctx, other)
	require.NoError(t, err)

	names := make([]string, 0, len(datasets))
	for _, d := range datasets {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "prod")
}

package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/chunker"
	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/filemeta"
	"github.com/indexforge/indexforge/internal/hashutil"
	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

func writeFile(t *testing.T, dir, relPath, content string) string {
	t.Helper()
	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

func TestChangeDetector_ClassifiesCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\nfunc A() {}\n")
	writeFile(t, dir, "b.go", "package a\nfunc B() {}\n")

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, nil, true)
	require.NoError(t, err)

	assert.Len(t, plan.Created, 2)
	assert.Empty(t, plan.Modified)
	assert.Empty(t, plan.Deleted)
	assert.Empty(t, plan.Renamed)
}

func TestChangeDetector_ClassifiesModifiedAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.go", "package a\nfunc A() {}\n")
	writeFile(t, dir, "b.go", "package a\nfunc B() {}\n")

	aHash, err := hashutil.New(dir).HashFile(filepath.Join(dir, "a.go"))
	require.NoError(t, err)
	bHash, err := hashutil.New(dir).HashFile(filepath.Join(dir, "b.go"))
	require.NoError(t, err)

	stored := []filemeta.File{
		{RelativePath: "a.go", SHA256Hash: aHash},
		{RelativePath: "b.go", SHA256Hash: "stale-hash"},
	}

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, stored, true)
	require.NoError(t, err)

	assert.Len(t, plan.Unchanged, 1)
	assert.Equal(t, "a.go", plan.Unchanged[0].RelativePath)
	require.Len(t, plan.Modified, 1)
	assert.Equal(t, "b.go", plan.Modified[0].RelativePath)
	assert.NotEqual(t, "stale-hash", bHash)
}

func TestChangeDetector_DetectsRenameByHash(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "old.go", "package a\nfunc A() {}\n")

	hash, err := hashutil.New(dir).HashFile(abs)
	require.NoError(t, err)
	stored := []filemeta.File{{RelativePath: "old.go", SHA256Hash: hash}}

	require.NoError(t, os.Remove(abs))
	writeFile(t, dir, "new.go", "package a\nfunc A() {}\n")

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, stored, true)
	require.NoError(t, err)

	require.Len(t, plan.Renamed, 1)
	assert.Equal(t, "old.go", plan.Renamed[0].OldPath)
	assert.Equal(t, "new.go", plan.Renamed[0].NewPath)
	assert.Empty(t, plan.Deleted)
	assert.Empty(t, plan.Created)
}

func TestChangeDetector_SkipsRenamePairingWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	abs := writeFile(t, dir, "old.go", "package a\nfunc A() {}\n")

	hash, err := hashutil.New(dir).HashFile(abs)
	require.NoError(t, err)
	stored := []filemeta.File{{RelativePath: "old.go", SHA256Hash: hash}}

	require.NoError(t, os.Remove(abs))
	writeFile(t, dir, "new.go", "package a\nfunc A() {}\n")

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, stored, false)
	require.NoError(t, err)

	assert.Empty(t, plan.Renamed)
	require.Len(t, plan.Deleted, 1)
	assert.Equal(t, "old.go", plan.Deleted[0])
	require.Len(t, plan.Created, 1)
	assert.Equal(t, "new.go", plan.Created[0].RelativePath)
}

func TestChangeDetector_DetectsDeletion(t *testing.T) {
	dir := t.TempDir()
	stored := []filemeta.File{{RelativePath: "gone.go", SHA256Hash: "anything"}}

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, stored, true)
	require.NoError(t, err)

	require.Len(t, plan.Deleted, 1)
	assert.Equal(t, "gone.go", plan.Deleted[0])
}

func TestChangeDetector_IgnoresVendorAndGitDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n")
	writeFile(t, dir, "vendor/lib/code.go", "package lib\n")
	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")

	matcher := ignore.New(ignore.DefaultPatterns())
	plan, err := NewChangeDetector(dir).Detect(context.Background(), dir, matcher, nil, true)
	require.NoError(t, err)

	require.Len(t, plan.Created, 1)
	assert.Equal(t, "main.go", plan.Created[0].RelativePath)
}

// newTestSyncer wires a Syncer against a real PostgreSQL instance when
// DATABASE_URL is set; otherwise the calling test is skipped.
func newTestSyncer(t *testing.T) (*Syncer, string, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed sync test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, dbschema.Migrate(context.Background(), pool))

	scopeMgr := scope.New(pool)
	files := filemeta.New(pool)
	store := vectorstore.NewMemoryStore()
	embedder := embedding.NewMock(8)
	ch := chunker.New(2000, 200)

	projectID, _, err := scopeMgr.ResolveProject(context.Background(), "proj-"+uuid.NewString()[:8])
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(context.Background(), projectID, "ds-"+uuid.NewString()[:8], scope.VisibilityProject)
	require.NoError(t, err)

	return NewSyncer(scopeMgr, files, store, embedder, ch), projectID, datasetID
}

func TestSyncer_SyncIngestsCreatedFiles(t *testing.T) {
	syncer, projectID, datasetID := newTestSyncer(t)

	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc main() {}\n")

	var phases []Phase
	err := syncer.Sync(context.Background(), Options{ProjectID: projectID, DatasetID: datasetID, Root: dir}, func(p Progress) {
		phases = append(phases, p.Phase)
	})
	require.NoError(t, err)
	assert.Contains(t, phases, PhaseCreating)
	assert.Contains(t, phases, PhaseComplete)
}

func TestSyncer_SyncIsIdempotentOnSecondRun(t *testing.T) {
	syncer, projectID, datasetID := newTestSyncer(t)

	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\nfunc main() {}\n")

	require.NoError(t, syncer.Sync(context.Background(), Options{ProjectID: projectID, DatasetID: datasetID, Root: dir}, nil))

	var finalProgress Progress
	require.NoError(t, syncer.Sync(context.Background(), Options{ProjectID: projectID, DatasetID: datasetID, Root: dir}, func(p Progress) {
		finalProgress = p
	}))
	assert.Equal(t, 0, finalProgress.FilesProcessed)
}

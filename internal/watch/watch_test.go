package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/pkg/events"
)

// newTestWatchPool connects to a real PostgreSQL instance when
// DATABASE_URL is set; otherwise the calling test is skipped.
func newTestWatchPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed registry test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, dbschema.Migrate(context.Background(), pool))

	return pool
}

func TestWatcher_StartThenStopTransitionsState(t *testing.T) {
	dir := t.TempDir()
	matcher := ignore.New(ignore.DefaultPatterns())

	synced := make(chan struct{}, 1)
	w, err := New(Config{ProjectID: "p1", DatasetID: "d1", Root: dir, Debounce: 10 * time.Millisecond}, matcher, func(ctx context.Context) (SyncStats, error) {
		select {
		case synced <- struct{}{}:
		default:
		}
		return SyncStats{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.Equal(t, StateStopped, w.State())
}

func TestWatcher_FileWriteTriggersDebouncedSync(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))

	matcher := ignore.New(ignore.DefaultPatterns())
	synced := make(chan struct{}, 4)

	w, err := New(Config{ProjectID: "p1", DatasetID: "d1", Root: dir, Debounce: 20 * time.Millisecond}, matcher, func(ctx context.Context) (SyncStats, error) {
		synced <- struct{}{}
		return SyncStats{FilesChanged: 1}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc A() {}\n"), 0o644))

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync trigger after debounced write")
	}
}

func TestWatcher_WritesSidecarStateFile(t *testing.T) {
	dir := t.TempDir()
	matcher := ignore.New(ignore.DefaultPatterns())

	w, err := New(Config{ProjectID: "p1", DatasetID: "d1", Root: dir}, matcher, func(ctx context.Context) (SyncStats, error) { return SyncStats{}, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, ".indexforge-watch.json"))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, ".indexforge-watch.json"))
	require.NoError(t, err)
	var state sidecarState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "p1", state.ProjectID)
}

func TestRegistry_StartAndStopTracksWatcher(t *testing.T) {
	pool := newTestWatchPool(t)
	registry := NewRegistry(pool)
	matcher := ignore.New(ignore.DefaultPatterns())
	dir := t.TempDir()

	scopeMgr := scope.New(pool)
	projectID, _, err := scopeMgr.ResolveProject(context.Background(), "watch-test-project")
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(context.Background(), projectID, "watch-test-dataset", scope.VisibilityProject)
	require.NoError(t, err)

	cfg := Config{ProjectID: projectID, DatasetID: datasetID, Root: dir, Debounce: 10 * time.Millisecond}
	require.NoError(t, registry.Start(context.Background(), cfg, matcher, func(ctx context.Context) (SyncStats, error) { return SyncStats{}, nil }))

	w, ok := registry.Get(cfg.ProjectID, cfg.DatasetID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)

	require.NoError(t, registry.Stop(context.Background(), cfg.ProjectID, cfg.DatasetID))
	_, ok = registry.Get(cfg.ProjectID, cfg.DatasetID)
	assert.False(t, ok)
}

func TestWatcher_FileWriteTriggersWatchSyncEvent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))

	matcher := ignore.New(ignore.DefaultPatterns())
	b := bus.New(0, nil)
	sub := b.Subscribe("p1", events.TypeWatchSync)
	defer b.Unsubscribe(sub)

	w, err := New(Config{
		ProjectID: "p1", DatasetID: "d1", Root: dir, Debounce: 20 * time.Millisecond,
		Publisher: b,
	}, matcher, func(ctx context.Context) (SyncStats, error) {
		return SyncStats{FilesChanged: 1, ChunksIndexed: 3}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc A() {}\n"), 0o644))

	select {
	case env := <-sub.Events():
		stats, ok := env.Data.(events.WatchSync)
		require.True(t, ok)
		assert.Equal(t, 1, stats.FilesChanged)
		assert.Equal(t, 3, stats.ChunksIndexed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watch:sync event after debounced write")
	}
}

func TestWatcher_SyncErrorPublishesWatchErrorEvent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\n"), 0o644))

	matcher := ignore.New(ignore.DefaultPatterns())
	b := bus.New(0, nil)
	sub := b.Subscribe("p1", events.TypeWatchError)
	defer b.Unsubscribe(sub)

	w, err := New(Config{
		ProjectID: "p1", DatasetID: "d1", Root: dir, Debounce: 20 * time.Millisecond,
		Publisher: b,
	}, matcher, func(ctx context.Context) (SyncStats, error) {
		return SyncStats{}, assert.AnError
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.Eventually(t, func() bool { return w.State() == StateRunning }, time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a\nfunc A() {}\n"), 0o644))

	select {
	case env := <-sub.Events():
		errData, ok := env.Data.(events.WatchErrorData)
		require.True(t, ok)
		assert.NotEmpty(t, errData.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a watch:error event after a failing sync")
	}
}

func TestMsToDuration(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, msToDuration(500))
	assert.Equal(t, time.Duration(0), msToDuration(0))
}

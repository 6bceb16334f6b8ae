package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/crawler"
	"github.com/indexforge/indexforge/internal/crawlsession"
	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/pkg/events"
)

// newTestCrawlMonitor connects to a real PostgreSQL instance when
// DATABASE_URL is set; otherwise the calling test is skipped, since
// CrawlMonitor.syncSession drives crawlsession.Store's actual SQL.
func newTestCrawlMonitor(t *testing.T, client *crawler.Client, b *bus.Bus) (*CrawlMonitor, *crawlsession.Store, string) {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping PostgreSQL-backed monitor test")
	}

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, dbschema.Migrate(context.Background(), pool))

	scopeMgr := scope.New(pool)
	projectID, _, err := scopeMgr.ResolveProject(context.Background(), "monitor-test-project")
	require.NoError(t, err)
	datasetID, _, err := scopeMgr.ResolveDataset(context.Background(), projectID, "monitor-test-dataset", scope.VisibilityProject)
	require.NoError(t, err)

	sessions := crawlsession.New(pool)
	monitor := NewCrawlMonitor(client, sessions, b, time.Hour, nil)
	return monitor, sessions, datasetID
}

func TestCrawlMonitor_PollPublishesProgressAndSyncsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(crawler.Progress{
			Phase: "crawling", Percentage: 50, Current: 5, Total: 10,
			Status: crawler.StatusRunning,
		})
	}))
	defer srv.Close()

	client := crawler.NewClient(srv.URL, nil)
	b := newTestBus()
	monitor, sessions, datasetID := newTestCrawlMonitor(t, client, b)

	externalID := "ext-" + time.Now().Format("150405.000000000")
	_, err := sessions.Create(context.Background(), crawlsession.CreateParams{DatasetID: datasetID, ExternalID: externalID})
	require.NoError(t, err)

	sub := b.Subscribe("", events.TypeCrawlProgress)
	defer b.Unsubscribe(sub)

	monitor.Track(externalID, "monitor-test-project", "monitor-test-dataset", datasetID)
	monitor.poll(context.Background(), externalID, tracked{project: "monitor-test-project", dataset: "monitor-test-dataset", datasetID: datasetID})

	select {
	case env := <-sub.Events():
		progress, ok := env.Data.(events.CrawlProgress)
		require.True(t, ok)
		assert.Equal(t, externalID, progress.SessionID)
		assert.Equal(t, 50.0, progress.Percentage)
	case <-time.After(time.Second):
		t.Fatal("expected a crawl:progress event")
	}

	sess, err := sessions.GetByExternalID(context.Background(), datasetID, externalID)
	require.NoError(t, err)
	assert.Equal(t, crawlsession.StatusRunning, sess.Status)
	assert.Equal(t, 5, sess.PagesCrawled)
}

func TestCrawlMonitor_UntracksSessionOnTerminalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(crawler.Progress{
			Phase: "done", Percentage: 100, Current: 10, Total: 10,
			Status: crawler.StatusCompleted,
		})
	}))
	defer srv.Close()

	client := crawler.NewClient(srv.URL, nil)
	b := newTestBus()
	monitor, sessions, datasetID := newTestCrawlMonitor(t, client, b)

	externalID := "ext-done-" + time.Now().Format("150405.000000000")
	_, err := sessions.Create(context.Background(), crawlsession.CreateParams{DatasetID: datasetID, ExternalID: externalID})
	require.NoError(t, err)

	monitor.Track(externalID, "monitor-test-project", "monitor-test-dataset", datasetID)
	monitor.pollAll(context.Background())

	snap := monitor.snapshot()
	_, stillTracked := snap[externalID]
	assert.False(t, stillTracked)
}

func TestCrawlMonitor_EmitsErrorOnClientFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := crawler.NewClient(srv.URL, nil)
	b := newTestBus()
	monitor, _, datasetID := newTestCrawlMonitor(t, client, b)

	sub := b.Subscribe("", events.TypeError)
	defer b.Unsubscribe(sub)

	monitor.Track("ext-err", "", "", datasetID)
	monitor.pollAll(context.Background())

	select {
	case env := <-sub.Events():
		errData, ok := env.Data.(events.Error)
		require.True(t, ok)
		assert.Equal(t, "crawl_monitor", errData.Source)
	case <-time.After(time.Second):
		t.Fatal("expected an error event")
	}
}

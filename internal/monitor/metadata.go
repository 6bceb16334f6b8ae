// Package monitor implements the three cooperating telemetry loops
// that turn database/crawler/vector-store state into events on the
// subscription bus: MetadataMonitor (LISTEN/NOTIFY plus a periodic
// safety-net poll), CrawlMonitor (per-session progress polling), and
// VectorStoreMonitor (collection/point-count polling).
package monitor

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/pkg/events"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const defaultMetadataInterval = 30 * time.Second

// MetadataMonitor aggregates project/dataset/crawl metadata whenever
// claude_context's stats_updates or github_job_updates channels fire
// (debounced at the bus), plus a periodic safety-net poll so a missed
// or coalesced notification never leaves stats stale for long.
type MetadataMonitor struct {
	pool     *pgxpool.Pool
	listener *dbschema.Listener
	bus      *bus.Bus
	interval time.Duration
	logger   *observability.Logger
}

// NewMetadataMonitor creates a MetadataMonitor. interval defaults to 30s.
func NewMetadataMonitor(pool *pgxpool.Pool, listener *dbschema.Listener, b *bus.Bus, interval time.Duration, logger *observability.Logger) *MetadataMonitor {
	if interval <= 0 {
		interval = defaultMetadataInterval
	}
	return &MetadataMonitor{pool: pool, listener: listener, bus: b, interval: interval, logger: logger}
}

// Run subscribes to both notify channels and the safety-net ticker,
// refreshing and publishing stats on every signal, until ctx is
// cancelled.
func (m *MetadataMonitor) Run(ctx context.Context) {
	statsCh, unsubStats, err := m.listener.Subscribe(ctx, "stats_updates")
	if err != nil {
		m.emitError(err)
		return
	}
	defer unsubStats()

	jobCh, unsubJobs, err := m.listener.Subscribe(ctx, "github_job_updates")
	if err != nil {
		m.emitError(err)
		return
	}
	defer unsubJobs()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsCh:
			m.refresh(ctx)
		case <-jobCh:
			m.refresh(ctx)
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}

func (m *MetadataMonitor) refresh(ctx context.Context) {
	stats, err := m.aggregate(ctx)
	if err != nil {
		m.emitError(err)
		return
	}

	for _, p := range stats.Projects {
		m.bus.PublishCoalesced("postgres:stats:"+p.Name, events.Envelope{
			Type:    events.TypePostgresStats,
			Project: p.Name,
			Data: events.PostgresStats{
				Projects:     []events.ProjectSummary{p},
				RecentCrawls: crawlsForProject(stats.RecentCrawls, p.Name),
			},
		})
	}
	m.bus.PublishCoalesced("postgres:stats:all", events.Envelope{
		Type:    events.TypePostgresStats,
		Project: "all",
		Data:    stats,
	})
}

func crawlsForProject(crawls []events.RecentCrawl, project string) []events.RecentCrawl {
	var out []events.RecentCrawl
	for _, c := range crawls {
		if c.Project == project {
			out = append(out, c)
		}
	}
	return out
}

func (m *MetadataMonitor) emitError(err error) {
	if m.logger != nil {
		m.logger.Error("metadata monitor aggregate failed", "error", err)
	}
	m.bus.Publish(events.Envelope{
		Type: events.TypeError,
		Data: events.Error{Source: "metadata_monitor", Message: err.Error()},
	})
}

type projectRow struct {
	id       string
	name     string
	datasets int
}

// aggregate runs the short aggregate query set producing the
// {projects[{name, datasets, chunks, webPages}], recentCrawls[...]}
// shape the spec's MetadataMonitor publishes.
func (m *MetadataMonitor) aggregate(ctx context.Context) (events.PostgresStats, error) {
	projects, err := m.queryProjects(ctx)
	if err != nil {
		return events.PostgresStats{}, err
	}

	chunksByProject, err := m.queryChunksByProject(ctx)
	if err != nil {
		return events.PostgresStats{}, err
	}

	webPagesByProject, err := m.queryWebPagesByProject(ctx)
	if err != nil {
		return events.PostgresStats{}, err
	}

	summaries := make([]events.ProjectSummary, 0, len(projects))
	for _, p := range projects {
		summaries = append(summaries, events.ProjectSummary{
			Name:     p.name,
			Datasets: p.datasets,
			Chunks:   chunksByProject[p.id],
			WebPages: webPagesByProject[p.id],
		})
	}

	recentCrawls, err := m.queryRecentCrawls(ctx)
	if err != nil {
		return events.PostgresStats{}, err
	}

	return events.PostgresStats{Projects: summaries, RecentCrawls: recentCrawls}, nil
}

func (m *MetadataMonitor) queryProjects(ctx context.Context) ([]projectRow, error) {
	query, args, err := psql.Select("p.id", "p.name", "count(distinct d.id)").
		From("claude_context.projects p").
		LeftJoin("claude_context.datasets d ON d.project_id = p.id").
		GroupBy("p.id", "p.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("monitor: build projects query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("monitor: query projects: %w", err))
	}
	defer rows.Close()

	var out []projectRow
	for rows.Next() {
		var r projectRow
		if err := rows.Scan(&r.id, &r.name, &r.datasets); err != nil {
			return nil, fmt.Errorf("monitor: scan project row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *MetadataMonitor) queryChunksByProject(ctx context.Context) (map[string]int64, error) {
	query, args, err := psql.Select("project_id", "coalesce(sum(chunk_count), 0)").
		From("claude_context.indexed_files").
		GroupBy("project_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("monitor: build chunks query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("monitor: query chunks: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var chunks int64
		if err := rows.Scan(&id, &chunks); err != nil {
			return nil, fmt.Errorf("monitor: scan chunks row: %w", err)
		}
		out[id] = chunks
	}
	return out, rows.Err()
}

func (m *MetadataMonitor) queryWebPagesByProject(ctx context.Context) (map[string]int64, error) {
	query, args, err := psql.Select("d.project_id", "count(wp.id)").
		From("claude_context.web_pages wp").
		Join("claude_context.crawl_sessions cs ON cs.id = wp.crawl_session_id").
		Join("claude_context.datasets d ON d.id = cs.dataset_id").
		GroupBy("d.project_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("monitor: build web pages query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("monitor: query web pages: %w", err))
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("monitor: scan web pages row: %w", err)
		}
		out[id] = count
	}
	return out, rows.Err()
}

func (m *MetadataMonitor) queryRecentCrawls(ctx context.Context) ([]events.RecentCrawl, error) {
	query, args, err := psql.Select(
		"cs.id", "p.name", "d.name", "cs.status", "cs.pages_crawled", "cs.pages_failed",
		"extract(epoch from (coalesce(cs.completed_at, now()) - cs.started_at)) * 1000",
	).
		From("claude_context.crawl_sessions cs").
		Join("claude_context.datasets d ON d.id = cs.dataset_id").
		Join("claude_context.projects p ON p.id = d.project_id").
		OrderBy("cs.started_at DESC").
		Limit(20).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("monitor: build recent crawls query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("monitor: query recent crawls: %w", err))
	}
	defer rows.Close()

	var out []events.RecentCrawl
	for rows.Next() {
		var c events.RecentCrawl
		var durationMs float64
		if err := rows.Scan(&c.SessionID, &c.Project, &c.Dataset, &c.Status, &c.PagesCrawled, &c.PagesFailed, &durationMs); err != nil {
			return nil, fmt.Errorf("monitor: scan recent crawl row: %w", err)
		}
		c.DurationMs = int64(durationMs)
		out = append(out, c)
	}
	return out, rows.Err()
}

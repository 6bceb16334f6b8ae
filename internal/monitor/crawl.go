package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/crawler"
	"github.com/indexforge/indexforge/internal/crawlsession"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/pkg/events"
)

const defaultCrawlPollInterval = time.Second

// tracked identifies the project/dataset a tracked crawl session
// belongs to, since the crawler service's progress payload carries
// neither.
type tracked struct {
	project   string
	dataset   string
	datasetID string
}

// CrawlMonitor polls the crawler service's progress endpoint for every
// tracked session at a fixed rate, publishes crawl:progress events, and
// mirrors progress into claude_context.crawl_sessions via
// internal/crawlsession.Store, dropping a session from tracking once it
// reaches a terminal status.
type CrawlMonitor struct {
	client   *crawler.Client
	sessions *crawlsession.Store
	bus      *bus.Bus
	interval time.Duration
	logger   *observability.Logger

	mu      sync.Mutex
	tracked map[string]tracked // sessionID -> project/dataset
}

// NewCrawlMonitor creates a CrawlMonitor. interval defaults to 1s.
func NewCrawlMonitor(client *crawler.Client, sessions *crawlsession.Store, b *bus.Bus, interval time.Duration, logger *observability.Logger) *CrawlMonitor {
	if interval <= 0 {
		interval = defaultCrawlPollInterval
	}
	return &CrawlMonitor{client: client, sessions: sessions, bus: b, interval: interval, logger: logger, tracked: make(map[string]tracked)}
}

// Track begins polling sessionID for progress, tagging its events with
// project/dataset for subscribers filtering by project and recording
// datasetID so progress can be mirrored back into the session's row.
func (m *CrawlMonitor) Track(sessionID, project, dataset, datasetID string) {
	m.mu.Lock()
	m.tracked[sessionID] = tracked{project: project, dataset: dataset, datasetID: datasetID}
	m.mu.Unlock()
}

func (m *CrawlMonitor) untrack(sessionID string) {
	m.mu.Lock()
	delete(m.tracked, sessionID)
	m.mu.Unlock()
}

func (m *CrawlMonitor) snapshot() map[string]tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]tracked, len(m.tracked))
	for k, v := range m.tracked {
		out[k] = v
	}
	return out
}

// ResumeActive re-tracks every non-terminal crawl session recorded in
// Postgres, so a process restart picks polling back up instead of
// orphaning in-flight crawls.
func (m *CrawlMonitor) ResumeActive(ctx context.Context) error {
	active, err := m.sessions.Active(ctx)
	if err != nil {
		return err
	}
	for _, sess := range active {
		m.Track(sess.ExternalID, "", "", sess.DatasetID)
	}
	return nil
}

// Run polls every tracked session once per interval until ctx is
// cancelled.
func (m *CrawlMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

func (m *CrawlMonitor) pollAll(ctx context.Context) {
	for sessionID, info := range m.snapshot() {
		m.poll(ctx, sessionID, info)
	}
}

func (m *CrawlMonitor) poll(ctx context.Context, sessionID string, info tracked) {
	progress, err := m.client.Progress(ctx, sessionID)
	if err != nil {
		m.emitError(sessionID, err)
		return
	}

	m.bus.PublishCoalesced("crawl:progress:"+sessionID, events.Envelope{
		Type:      events.TypeCrawlProgress,
		Project:   info.project,
		SessionID: sessionID,
		Data: events.CrawlProgress{
			SessionID:           sessionID,
			Project:             info.project,
			Dataset:             info.dataset,
			Phase:               progress.Phase,
			CurrentPhase:        progress.Phase,
			PhaseDetail:         progress.PhaseDetail,
			Percentage:          progress.Percentage,
			Current:             progress.Current,
			Total:               progress.Total,
			Status:              string(progress.Status),
			ChunksProcessed:     progress.ChunksProcessed,
			ChunksTotal:         progress.ChunksTotal,
			SummariesGenerated:  progress.SummariesGenerated,
			EmbeddingsGenerated: progress.EmbeddingsGenerated,
		},
	})

	if err := m.syncSession(ctx, sessionID, info.datasetID, progress); err != nil {
		m.emitError(sessionID, err)
	}

	if progress.Done() {
		m.untrack(sessionID)
	}
}

func (m *CrawlMonitor) syncSession(ctx context.Context, sessionID, datasetID string, progress crawler.Progress) error {
	if datasetID == "" {
		return nil
	}

	sess, err := m.sessions.GetByExternalID(ctx, datasetID, sessionID)
	if err != nil {
		// A session row the monitor hasn't been told about yet (or
		// one that raced ahead of Create) is still worth broadcasting
		// progress for; the row sync is best-effort.
		return nil
	}

	status := crawlsession.StatusRunning
	switch progress.Status {
	case crawler.StatusCompleted:
		status = crawlsession.StatusCompleted
	case crawler.StatusFailed:
		status = crawlsession.StatusFailed
	case crawler.StatusPending:
		status = crawlsession.StatusPending
	}

	return m.sessions.PatchProgress(ctx, sess.ID, status, progress.Current, progress.Total-progress.Current, crawlsession.Metadata{
		Phase:       progress.Phase,
		Progress:    int(progress.Percentage),
		PhaseDetail: progress.PhaseDetail,
	})
}

func (m *CrawlMonitor) emitError(sessionID string, err error) {
	if m.logger != nil {
		m.logger.Error("crawl monitor poll failed", "sessionId", sessionID, "error", err)
	}
	m.bus.Publish(events.Envelope{
		Type:      events.TypeError,
		SessionID: sessionID,
		Data:      events.Error{Source: "crawl_monitor", Message: err.Error()},
	})
}

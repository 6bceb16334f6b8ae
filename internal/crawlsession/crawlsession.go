// Package crawlsession tracks claude_context.crawl_sessions rows,
// letting internal/ingest and internal/monitor observe and patch a
// web crawl's lifecycle without re-deriving it from the crawler
// service on every read.
package crawlsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/observability"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const table = "claude_context.crawl_sessions"

// Status mirrors the session's lifecycle stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metadata is the free-form phase/progress/start-url blob patched
// incrementally as the crawl progresses.
type Metadata struct {
	Phase       string `json:"phase,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	StartURL    string `json:"startUrl,omitempty"`
	PhaseDetail string `json:"phaseDetail,omitempty"`
}

// Session is a single claude_context.crawl_sessions row.
type Session struct {
	ID           string
	DatasetID    string
	ExternalID   string
	Status       Status
	PagesCrawled int
	PagesFailed  int
	MaxPages     int
	Depth        int
	Metadata     Metadata
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// CreateParams describes a new crawl session.
type CreateParams struct {
	DatasetID  string
	ExternalID string
	MaxPages   int
	Depth      int
	StartURL   string
}

// Store is a PostgreSQL-backed crawl session tracker.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new pending session row.
func (s *Store) Create(ctx context.Context, p CreateParams) (string, error) {
	id := uuid.NewString()
	metadata, err := json.Marshal(Metadata{StartURL: p.StartURL})
	if err != nil {
		return "", fmt.Errorf("crawlsession: encode metadata: %w", err)
	}

	query, args, err := psql.Insert(table).
		Columns("id", "dataset_id", "external_id", "status", "max_pages", "depth", "metadata").
		Values(id, p.DatasetID, p.ExternalID, string(StatusPending), p.MaxPages, p.Depth, metadata).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("crawlsession: build create: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", observability.Transient(fmt.Errorf("crawlsession: create: %w", err))
	}
	return id, nil
}

// PatchProgress updates status/page counters and merges patch into the
// session's metadata blob.
func (s *Store) PatchProgress(ctx context.Context, id string, status Status, pagesCrawled, pagesFailed int, patch Metadata) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := mergeMetadata(existing.Metadata, patch)
	metadata, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("crawlsession: encode metadata: %w", err)
	}

	builder := psql.Update(table).
		Set("status", string(status)).
		Set("pages_crawled", pagesCrawled).
		Set("pages_failed", pagesFailed).
		Set("metadata", metadata).
		Where(sq.Eq{"id": id})

	if status == StatusCompleted || status == StatusFailed {
		builder = builder.Set("completed_at", sq.Expr("now()"))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("crawlsession: build patch: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("crawlsession: patch %s: %w", id, err))
	}
	return nil
}

func mergeMetadata(existing, patch Metadata) Metadata {
	merged := existing
	if patch.Phase != "" {
		merged.Phase = patch.Phase
	}
	if patch.Progress != 0 {
		merged.Progress = patch.Progress
	}
	if patch.StartURL != "" {
		merged.StartURL = patch.StartURL
	}
	if patch.PhaseDetail != "" {
		merged.PhaseDetail = patch.PhaseDetail
	}
	return merged
}

// Get returns a single session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	query, args, err := psql.Select(
		"id", "dataset_id", "external_id", "status", "pages_crawled", "pages_failed",
		"max_pages", "depth", "metadata", "started_at", "completed_at",
	).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("crawlsession: build get: %w", err)
	}

	return scanSession(s.pool.QueryRow(ctx, query, args...), id)
}

// GetByExternalID looks up a session by dataset and the crawler
// service's externally-assigned session id.
func (s *Store) GetByExternalID(ctx context.Context, datasetID, externalID string) (*Session, error) {
	query, args, err := psql.Select(
		"id", "dataset_id", "external_id", "status", "pages_crawled", "pages_failed",
		"max_pages", "depth", "metadata", "started_at", "completed_at",
	).From(table).Where(sq.Eq{"dataset_id": datasetID, "external_id": externalID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("crawlsession: build get by external id: %w", err)
	}

	return scanSession(s.pool.QueryRow(ctx, query, args...), externalID)
}

// Active returns every session not yet in a terminal status, used by
// internal/monitor.CrawlMonitor to rebuild its tracked-session map on
// startup.
func (s *Store) Active(ctx context.Context) ([]Session, error) {
	query, args, err := psql.Select(
		"id", "dataset_id", "external_id", "status", "pages_crawled", "pages_failed",
		"max_pages", "depth", "metadata", "started_at", "completed_at",
	).From(table).Where(sq.NotEq{"status": []string{string(StatusCompleted), string(StatusFailed)}}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("crawlsession: build active: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("crawlsession: list active: %w", err))
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows, "")
		if err != nil {
			return nil, observability.Transient(fmt.Errorf("crawlsession: scan active: %w", err))
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row, lookupID string) (*Session, error) {
	var sess Session
	var status string
	var metadata []byte
	err := row.Scan(&sess.ID, &sess.DatasetID, &sess.ExternalID, &status, &sess.PagesCrawled,
		&sess.PagesFailed, &sess.MaxPages, &sess.Depth, &metadata, &sess.StartedAt, &sess.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, observability.NotFound("crawl_session", lookupID)
	}
	if err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sess.Metadata); err != nil {
			return nil, fmt.Errorf("crawlsession: decode metadata: %w", err)
		}
	}
	return &sess, nil
}

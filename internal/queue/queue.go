// Package queue implements a PostgreSQL-backed job queue for GitHub
// repository ingestion, dispatched via SELECT ... FOR UPDATE SKIP
// LOCKED and observed through LISTEN/NOTIFY on claude_context.github_jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/dbschema"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/observability/audit"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const table = "claude_context.github_jobs"

// Status is a job's lifecycle stage, matching the CHECK constraint on
// claude_context.github_jobs.status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Job is a single claude_context.github_jobs row.
type Job struct {
	ID           string
	ProjectID    string
	DatasetID    string
	RepoURL      string
	RepoOrg      string
	RepoName     string
	Branch       string
	SHA          string
	Status       Status
	Progress     int
	CurrentPhase string
	CurrentFile  string
	Error        string
	IndexedFiles int
	TotalChunks  int
	RetryCount   int
	MaxRetries   int
	Priority     int
	VisibleAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EnqueueParams describes a new GitHub ingestion job.
type EnqueueParams struct {
	ProjectID string
	DatasetID string
	RepoURL   string
	RepoOrg   string
	RepoName  string
	Branch    string
	Priority  int
}

// Notification is a parsed claude_context.github_job_updates payload.
type Notification struct {
	JobID        string `json:"id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	CurrentPhase string `json:"currentPhase"`
}

// Queue is a PostgreSQL-backed job queue. connString is kept alongside
// the pooled connection because LISTEN requires a dedicated connection
// that blocks for its lifetime, which must never be borrowed from pool.
type Queue struct {
	pool       *pgxpool.Pool
	connString string
	listener   *dbschema.Listener
	auditor    *audit.Logger
}

// SetAuditor attaches an audit logger that records job transitions
// (dispatch, completion, failure) independent of the rows themselves,
// since terminal rows are eventually removed by retention cleanup.
func (q *Queue) SetAuditor(a *audit.Logger) {
	q.auditor = a
}

// New creates a Queue backed by pool, dialing connString for LISTEN on
// its own dedicated connection.
func New(pool *pgxpool.Pool, connString string) *Queue {
	return &Queue{pool: pool, connString: connString}
}

// NewWithListener creates a Queue that delivers job-update
// notifications through a shared dbschema.Listener rather than dialing
// its own LISTEN connection, so MetadataMonitor and the queue's
// notifier can multiplex one physical connection per process.
func NewWithListener(pool *pgxpool.Pool, listener *dbschema.Listener) *Queue {
	return &Queue{pool: pool, listener: listener}
}

// Enqueue inserts a new pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (string, error) {
	if p.Branch == "" {
		p.Branch = "main"
	}
	id := uuid.NewString()

	query, args, err := psql.Insert(table).
		Columns("id", "project_id", "dataset_id", "repo_url", "repo_org", "repo_name", "branch", "priority").
		Values(id, p.ProjectID, p.DatasetID, p.RepoURL, p.RepoOrg, p.RepoName, p.Branch, p.Priority).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("queue: build enqueue: %w", err)
	}

	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return "", observability.Transient(fmt.Errorf("queue: enqueue: %w", err))
	}
	return id, nil
}

// Dispatch claims the highest-priority pending job whose visible_at has
// elapsed, marking it inProgress inside the same transaction that locks
// it. Returns nil, nil when no job is ready.
func (q *Queue) Dispatch(ctx context.Context) (*Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: begin dispatch tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	selectQuery, selectArgs, err := psql.Select("id").
		From(table).
		Where(sq.Eq{"status": string(StatusPending)}).
		Where(sq.LtOrEq{"visible_at": sq.Expr("now()")}).
		OrderBy("priority DESC", "visible_at ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("queue: build claim select: %w", err)
	}

	var id string
	err = tx.QueryRow(ctx, selectQuery, selectArgs...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: claim select: %w", err))
	}

	updateQuery, updateArgs, err := psql.Update(table).
		Set("status", string(StatusInProgress)).
		Set("started_at", sq.Expr("now()")).
		Set("current_phase", "starting").
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Suffix(jobColumns("RETURNING")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("queue: build claim update: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx, updateQuery, updateArgs...))
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: claim update: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: commit dispatch: %w", err))
	}

	if q.auditor != nil {
		q.auditor.LogJobTransition(ctx, job.ID, job.RepoURL, audit.EventTypeJobDispatched, "")
	}
	return job, nil
}

// UpdateProgress patches a job's progress/phase/current-file fields.
func (q *Queue) UpdateProgress(ctx context.Context, id string, progress int, phase, currentFile string) error {
	query, args, err := psql.Update(table).
		Set("progress", progress).
		Set("current_phase", phase).
		Set("current_file", currentFile).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("queue: build progress update: %w", err)
	}

	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("queue: update progress %s: %w", id, err))
	}
	return nil
}

// Complete marks a job completed with its final file/chunk counts.
func (q *Queue) Complete(ctx context.Context, id string, indexedFiles, totalChunks int) error {
	query, args, err := psql.Update(table).
		Set("status", string(StatusCompleted)).
		Set("progress", 100).
		Set("indexed_files", indexedFiles).
		Set("total_chunks", totalChunks).
		Set("completed_at", sq.Expr("now()")).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("queue: build complete: %w", err)
	}

	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("queue: complete %s: %w", id, err))
	}

	if q.auditor != nil {
		q.auditor.LogJobTransition(ctx, id, "", audit.EventTypeJobCompleted, "")
	}
	return nil
}

// Fail records a job failure. If the job has retries remaining, it is
// returned to pending with an exponential backoff on visible_at;
// otherwise it is marked permanently failed.
func (q *Queue) Fail(ctx context.Context, id string, failErr error) error {
	var retryCount, maxRetries int
	row := q.pool.QueryRow(ctx, `SELECT retry_count, max_retries FROM `+table+` WHERE id = $1`, id)
	if err := row.Scan(&retryCount, &maxRetries); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return observability.NotFound("github_job", id)
		}
		return observability.Transient(fmt.Errorf("queue: load job %s: %w", id, err))
	}

	retryCount++
	if retryCount > maxRetries {
		query, args, err := psql.Update(table).
			Set("status", string(StatusFailed)).
			Set("error", failErr.Error()).
			Set("retry_count", retryCount).
			Set("updated_at", sq.Expr("now()")).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("queue: build fail: %w", err)
		}
		if _, err := q.pool.Exec(ctx, query, args...); err != nil {
			return observability.Transient(fmt.Errorf("queue: fail %s: %w", id, err))
		}
		if q.auditor != nil {
			q.auditor.LogJobTransition(ctx, id, "", audit.EventTypeJobFailed, failErr.Error())
		}
		return nil
	}

	backoff := time.Duration(math.Pow(2, float64(retryCount))) * time.Second
	query, args, err := psql.Update(table).
		Set("status", string(StatusPending)).
		Set("error", failErr.Error()).
		Set("retry_count", retryCount).
		Set("visible_at", sq.Expr("now() + ?::interval", fmt.Sprintf("%d seconds", int(backoff.Seconds())))).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("queue: build retry: %w", err)
	}
	if _, err := q.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("queue: retry %s: %w", id, err))
	}
	if q.auditor != nil {
		q.auditor.LogJobTransition(ctx, id, "", audit.EventTypeJobRetried, failErr.Error())
	}
	return nil
}

// Get returns a single job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	query, args, err := psql.Select(jobColumnList()...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("queue: build get: %w", err)
	}

	job, err := scanJob(q.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, observability.NotFound("github_job", id)
	}
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: get %s: %w", id, err))
	}
	return job, nil
}

// Listen streams parsed github_job_updates notifications until ctx is
// cancelled. When the Queue was built with NewWithListener, delivery
// rides the shared dbschema.Listener connection; otherwise Listen opens
// its own dedicated LISTEN connection (never borrowed from pool, since
// a LISTEN connection blocks for as long as it is held).
func (q *Queue) Listen(ctx context.Context) (<-chan Notification, error) {
	if q.listener != nil {
		return q.listenShared(ctx)
	}

	conn, err := pgx.Connect(ctx, q.connString)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("queue: listen connect: %w", err))
	}
	if _, err := conn.Exec(ctx, "LISTEN github_job_updates"); err != nil {
		conn.Close(ctx)
		return nil, observability.Transient(fmt.Errorf("queue: listen: %w", err))
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			raw, err := conn.WaitForNotification(ctx)
			if err != nil {
				return
			}
			var n Notification
			if err := json.Unmarshal([]byte(raw.Payload), &n); err != nil {
				continue
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// listenShared subscribes to github_job_updates on the Queue's shared
// dbschema.Listener and translates its raw notifications into parsed
// Notification values on its own output channel.
func (q *Queue) listenShared(ctx context.Context) (<-chan Notification, error) {
	raw, unsubscribe, err := q.listener.Subscribe(ctx, "github_job_updates")
	if err != nil {
		return nil, err
	}

	out := make(chan Notification, 16)
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var n Notification
				if err := json.Unmarshal([]byte(payload.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func jobColumnList() []string {
	return []string{
		"id", "project_id", "dataset_id", "repo_url", "repo_org", "repo_name", "branch",
		"coalesce(sha, '')", "status", "progress", "coalesce(current_phase, '')",
		"coalesce(current_file, '')", "coalesce(error, '')", "indexed_files", "total_chunks",
		"retry_count", "max_retries", "priority", "visible_at", "created_at", "updated_at",
	}
}

func jobColumns(prefix string) string {
	cols := jobColumnList()
	out := prefix
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += " " + c
	}
	return out
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	err := row.Scan(&j.ID, &j.ProjectID, &j.DatasetID, &j.RepoURL, &j.RepoOrg, &j.RepoName, &j.Branch,
		&j.SHA, &status, &j.Progress, &j.CurrentPhase, &j.CurrentFile, &j.Error, &j.IndexedFiles,
		&j.TotalChunks, &j.RetryCount, &j.MaxRetries, &j.Priority, &j.VisibleAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	return &j, nil
}

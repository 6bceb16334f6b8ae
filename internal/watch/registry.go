package watch

import (
	"context"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/observability"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Registry owns every active Watcher, keyed by (projectID, datasetID),
// and persists their configuration to claude_context.file_watchers so a
// restart can resume watching without re-discovering every dataset.
type Registry struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewRegistry creates a Registry backed by pool for persistence.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool, watchers: make(map[string]*Watcher)}
}

func key(projectID, datasetID string) string {
	return projectID + "/" + datasetID
}

// Start creates, persists, and starts a watcher for cfg, replacing any
// existing watcher already registered for the same (project, dataset).
func (r *Registry) Start(ctx context.Context, cfg Config, matcher *ignore.Matcher, onSync SyncFunc) error {
	k := key(cfg.ProjectID, cfg.DatasetID)

	r.mu.Lock()
	if existing, ok := r.watchers[k]; ok {
		existing.Stop()
		delete(r.watchers, k)
	}
	r.mu.Unlock()

	w, err := New(cfg, matcher, onSync)
	if err != nil {
		return err
	}

	if err := r.persist(ctx, cfg, StateStarting); err != nil {
		return err
	}

	w.Start(ctx)

	r.mu.Lock()
	r.watchers[k] = w
	r.mu.Unlock()
	return nil
}

// Stop stops and removes the watcher for (projectID, datasetID).
func (r *Registry) Stop(ctx context.Context, projectID, datasetID string) error {
	k := key(projectID, datasetID)

	r.mu.Lock()
	w, ok := r.watchers[k]
	if ok {
		delete(r.watchers, k)
	}
	r.mu.Unlock()

	if !ok {
		return observability.NotFound("watcher", k)
	}

	w.Stop()
	return r.persist(ctx, w.cfg, StateStopped)
}

// Get returns the watcher registered for (projectID, datasetID), if any.
func (r *Registry) Get(projectID, datasetID string) (*Watcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.watchers[key(projectID, datasetID)]
	return w, ok
}

// List returns a snapshot of every registered watcher's state, keyed by
// "projectID/datasetID". The lock is released before the caller can
// range over the result, so iteration never holds it.
func (r *Registry) List() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]State, len(r.watchers))
	for k, w := range r.watchers {
		snapshot[k] = w.State()
	}
	return snapshot
}

func (r *Registry) persist(ctx context.Context, cfg Config, state State) error {
	debounceMs := int(cfg.Debounce.Milliseconds())
	if debounceMs <= 0 {
		debounceMs = int(defaultDebounce.Milliseconds())
	}

	query, args, err := psql.Insert("claude_context.file_watchers").
		Columns("id", "project_id", "dataset_id", "root_path", "state", "debounce_ms", "updated_at").
		Values(uuid.NewString(), cfg.ProjectID, cfg.DatasetID, cfg.Root, string(state), debounceMs, sq.Expr("now()")).
		Suffix(`ON CONFLICT (project_id, dataset_id, root_path) DO UPDATE SET
			state = EXCLUDED.state,
			debounce_ms = EXCLUDED.debounce_ms,
			updated_at = now()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("watch: build persist: %w", err)
	}

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("watch: persist %s/%s: %w", cfg.ProjectID, cfg.DatasetID, err))
	}
	return nil
}

// LoadConfigs returns every persisted watcher configuration not in the
// stopped state, used to resume watching on process start.
func (r *Registry) LoadConfigs(ctx context.Context) ([]Config, error) {
	query, args, err := psql.Select("project_id", "dataset_id", "root_path", "debounce_ms").
		From("claude_context.file_watchers").
		Where(sq.NotEq{"state": string(StateStopped)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("watch: build load: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("watch: load configs: %w", err))
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		var c Config
		var debounceMs int
		if err := rows.Scan(&c.ProjectID, &c.DatasetID, &c.Root, &debounceMs); err != nil {
			return nil, fmt.Errorf("watch: scan config: %w", err)
		}
		c.Debounce = msToDuration(debounceMs)
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

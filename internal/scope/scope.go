// Package scope resolves project and dataset names onto durable
// identifiers and derives the vector-collection name each dataset maps
// to, enforcing the sharing/visibility rules that keep one project's
// query from ever seeing another project's vectors.
package scope

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/hashutil"
	"github.com/indexforge/indexforge/internal/observability"
)

// Visibility is the default visibility scope assigned to a dataset.
type Visibility string

const (
	VisibilityGlobal  Visibility = "global"
	VisibilityProject Visibility = "project"
	VisibilityLocal   Visibility = "local"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Manager resolves project/dataset names to durable IDs, derives
// collection names, and answers visibility questions. It is a
// process-wide singleton backed by the shared PostgreSQL pool.
type Manager struct {
	pool *pgxpool.Pool
}

// New creates a Manager backed by pool.
func New(pool *pgxpool.Pool) *Manager {
	return &Manager{pool: pool}
}

// ResolveProject returns the durable id for name, creating the project
// row on first reference.
func (m *Manager) ResolveProject(ctx context.Context, name string) (id string, isGlobal bool, err error) {
	query, args, err := psql.Select("id", "is_global").
		From("claude_context.projects").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("scope: build select project: %w", err)
	}

	row := m.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&id, &isGlobal); err == nil {
		return id, isGlobal, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, observability.Transient(fmt.Errorf("scope: select project %q: %w", name, err))
	}

	newID := uuid.NewString()
	insert, args, err := psql.Insert("claude_context.projects").
		Columns("id", "name", "is_global").
		Values(newID, name, false).
		Suffix("ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name").
		Suffix("RETURNING id, is_global").
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("scope: build insert project: %w", err)
	}

	row = m.pool.QueryRow(ctx, insert, args...)
	if err := row.Scan(&id, &isGlobal); err != nil {
		return "", false, observability.Transient(fmt.Errorf("scope: create project %q: %w", name, err))
	}
	return id, isGlobal, nil
}

// LookupProject returns name's durable id without creating it, used by
// read paths (query planning) that must treat an unknown project as an
// empty result rather than implicitly provisioning one.
func (m *Manager) LookupProject(ctx context.Context, name string) (id string, ok bool, err error) {
	query, args, err := psql.Select("id").
		From("claude_context.projects").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("scope: build lookup project: %w", err)
	}

	row := m.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&id); err == nil {
		return id, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, observability.Transient(fmt.Errorf("scope: lookup project %q: %w", name, err))
	}
	return "", false, nil
}

// ResolveDataset returns the durable id for (projectID, name), creating
// the dataset row on first reference with scopeHint as its default
// visibility scope.
func (m *Manager) ResolveDataset(ctx context.Context, projectID, name string, scopeHint Visibility) (id string, scope Visibility, err error) {
	query, args, err := psql.Select("id", "scope").
		From("claude_context.datasets").
		Where(sq.Eq{"project_id": projectID, "name": name}).
		ToSql()
	if err != nil {
		return "", "", fmt.Errorf("scope: build select dataset: %w", err)
	}

	row := m.pool.QueryRow(ctx, query, args...)
	var scopeStr string
	if err := row.Scan(&id, &scopeStr); err == nil {
		return id, Visibility(scopeStr), nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", "", observability.Transient(fmt.Errorf("scope: select dataset %q: %w", name, err))
	}

	if scopeHint == "" {
		scopeHint = VisibilityProject
	}

	newID := uuid.NewString()
	insert, args, err := psql.Insert("claude_context.datasets").
		Columns("id", "project_id", "name", "is_global", "scope").
		Values(newID, projectID, name, scopeHint == VisibilityGlobal, string(scopeHint)).
		Suffix("ON CONFLICT (project_id, name) DO UPDATE SET name = EXCLUDED.name").
		Suffix("RETURNING id, scope").
		ToSql()
	if err != nil {
		return "", "", fmt.Errorf("scope: build insert dataset: %w", err)
	}

	row = m.pool.QueryRow(ctx, insert, args...)
	if err := row.Scan(&id, &scopeStr); err != nil {
		return "", "", observability.Transient(fmt.Errorf("scope: create dataset %q: %w", name, err))
	}
	return id, Visibility(scopeStr), nil
}

// CollectionNameFor derives the vector-collection name for a dataset.
// The mapping is a pure function of (projectID, datasetID): the same
// pair always yields the same name, and distinct pairs never collide
// because they differ in the hashed input.
func CollectionNameFor(projectID, datasetID string) string {
	digest := hashutil.HashString(projectID + ":" + datasetID)
	return "ds-" + digest[:16]
}

// AccessibleDatasets returns the ids of datasets that projectID may
// read: datasets it owns, datasets flagged globally visible, and
// datasets explicitly shared to it with canRead.
func (m *Manager) AccessibleDatasets(ctx context.Context, projectID string) ([]string, error) {
	query, args, err := psql.Select("d.id").
		From("claude_context.datasets d").
		LeftJoin("claude_context.project_shares ps ON ps.resource_type = 'dataset' AND ps.resource_id = d.id AND ps.target_project_id = ?", projectID).
		Where(sq.Or{
			sq.Eq{"d.project_id": projectID},
			sq.Eq{"d.is_global": true},
			sq.And{sq.NotEq{"ps.id": nil}, sq.Eq{"ps.can_read": true}},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("scope: build accessible datasets query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("scope: query accessible datasets: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scope: scan dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Dataset pairs a dataset's durable id with the name it is resolved
// under, enough for a query planner to match name/glob/alias patterns
// without a second round trip per candidate.
type Dataset struct {
	ID   string
	Name string
}

// ListAccessibleDatasets returns the id and name of every dataset
// projectID may read, for pattern matching against a query's requested
// dataset selector.
func (m *Manager) ListAccessibleDatasets(ctx context.Context, projectID string) ([]Dataset, error) {
	query, args, err := psql.Select("d.id", "d.name").
		From("claude_context.datasets d").
		LeftJoin("claude_context.project_shares ps ON ps.resource_type = 'dataset' AND ps.resource_id = d.id AND ps.target_project_id = ?", projectID).
		Where(sq.Or{
			sq.Eq{"d.project_id": projectID},
			sq.Eq{"d.is_global": true},
			sq.And{sq.NotEq{"ps.id": nil}, sq.Eq{"ps.can_read": true}},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("scope: build list accessible datasets query: %w", err)
	}

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("scope: query list accessible datasets: %w", err))
	}
	defer rows.Close()

	var datasets []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, fmt.Errorf("scope: scan dataset: %w", err)
		}
		datasets = append(datasets, d)
	}
	return datasets, rows.Err()
}

// IsAccessible reports whether projectID may read resourceID of
// resourceType: for a "dataset", true if projectID owns it or it is
// globally visible; for any resourceType, true if an explicit canRead
// share exists.
func (m *Manager) IsAccessible(ctx context.Context, projectID, resourceType, resourceID string) (bool, error) {
	if resourceType == "dataset" {
		var owned bool
		err := m.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM claude_context.datasets WHERE id = $1 AND (project_id = $2 OR is_global))`,
			resourceID, projectID).Scan(&owned)
		if err != nil {
			return false, observability.Transient(fmt.Errorf("scope: query dataset ownership: %w", err))
		}
		if owned {
			return true, nil
		}
	}

	query, args, err := psql.Select("1").
		From("claude_context.project_shares").
		Where(sq.Eq{
			"target_project_id": projectID,
			"resource_type":     resourceType,
			"resource_id":       resourceID,
			"can_read":          true,
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("scope: build share lookup: %w", err)
	}

	var exists int
	row := m.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&exists); err == nil {
		return true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, observability.Transient(fmt.Errorf("scope: query share: %w", err))
	}
	return false, nil
}

// ShareDataset grants targetProjectID read/write access to a dataset
// owned by (or already shared with) sourceProjectID. Self-sharing is
// rejected.
func (m *Manager) ShareDataset(ctx context.Context, sourceProjectID, targetProjectID, datasetID string, canRead, canWrite bool) error {
	if sourceProjectID == targetProjectID {
		return observability.Validation(errors.New("scope: cannot share a dataset with its own project"))
	}

	query, args, err := psql.Insert("claude_context.project_shares").
		Columns("id", "source_project_id", "target_project_id", "resource_type", "resource_id", "can_read", "can_write").
		Values(uuid.NewString(), sourceProjectID, targetProjectID, "dataset", datasetID, canRead, canWrite).
		Suffix("ON CONFLICT (source_project_id, target_project_id, resource_type, resource_id) DO UPDATE SET can_read = EXCLUDED.can_read, can_write = EXCLUDED.can_write").
		ToSql()
	if err != nil {
		return fmt.Errorf("scope: build share insert: %w", err)
	}

	if _, err := m.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("scope: share dataset %s: %w", datasetID, err))
	}
	return nil
}

// Package filemeta provides CRUD access to the indexed_files table, the
// per-file record the incremental sync pipeline diffs against to decide
// what changed since the last run.
package filemeta

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/indexforge/internal/observability"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// File is a single indexed_files row.
type File struct {
	ProjectID      string
	DatasetID      string
	FilePath       string
	RelativePath   string
	SHA256Hash     string
	FileSize       int64
	ChunkCount     int
	Language       string
	CollectionName string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LanguageStat summarizes indexed file counts per language.
type LanguageStat struct {
	Language   string
	FileCount  int
	ChunkCount int
}

// Store is a thin, transactional CRUD layer over indexed_files.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Upsert inserts or updates the metadata row for f, keyed by
// (projectId, datasetId, filePath).
func (s *Store) Upsert(ctx context.Context, f File) error {
	query, args, err := psql.Insert("claude_context.indexed_files").
		Columns("project_id", "dataset_id", "file_path", "relative_path", "sha256_hash",
			"file_size", "chunk_count", "language", "collection_name", "updated_at").
		Values(f.ProjectID, f.DatasetID, f.FilePath, f.RelativePath, f.SHA256Hash,
			f.FileSize, f.ChunkCount, nullIfEmpty(f.Language), f.CollectionName, sq.Expr("now()")).
		Suffix(`ON CONFLICT (project_id, dataset_id, file_path) DO UPDATE SET
			relative_path = EXCLUDED.relative_path,
			sha256_hash = EXCLUDED.sha256_hash,
			file_size = EXCLUDED.file_size,
			chunk_count = EXCLUDED.chunk_count,
			language = EXCLUDED.language,
			collection_name = EXCLUDED.collection_name,
			updated_at = now()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("filemeta: build upsert: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("filemeta: upsert %s: %w", f.FilePath, err))
	}
	return nil
}

// UpdatePath moves a file's recorded path from oldPath to newPath
// without touching its hash, size, or chunk count, used by rename
// detection so chunks are not re-embedded.
func (s *Store) UpdatePath(ctx context.Context, projectID, datasetID, oldPath, newPath, newRelativePath string) error {
	query, args, err := psql.Update("claude_context.indexed_files").
		Set("file_path", newPath).
		Set("relative_path", newRelativePath).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID, "file_path": oldPath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("filemeta: build rename: %w", err)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return observability.Transient(fmt.Errorf("filemeta: rename %s -> %s: %w", oldPath, newPath, err))
	}
	if tag.RowsAffected() == 0 {
		return observability.NotFound("indexed_file", oldPath)
	}
	return nil
}

// Remove deletes the metadata row for filePath.
func (s *Store) Remove(ctx context.Context, projectID, datasetID, filePath string) error {
	query, args, err := psql.Delete("claude_context.indexed_files").
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID, "file_path": filePath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("filemeta: build delete: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("filemeta: remove %s: %w", filePath, err))
	}
	return nil
}

// GetAll returns every indexed_files row for (projectID, datasetID).
func (s *Store) GetAll(ctx context.Context, projectID, datasetID string) ([]File, error) {
	query, args, err := psql.Select("project_id", "dataset_id", "file_path", "relative_path",
		"sha256_hash", "file_size", "chunk_count", "coalesce(language, '')", "collection_name",
		"created_at", "updated_at").
		From("claude_context.indexed_files").
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("filemeta: build getall: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("filemeta: getall: %w", err))
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ProjectID, &f.DatasetID, &f.FilePath, &f.RelativePath,
			&f.SHA256Hash, &f.FileSize, &f.ChunkCount, &f.Language, &f.CollectionName,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("filemeta: scan row: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ClearDataset removes every indexed_files row for (projectID,
// datasetID), used by a force-reindex to treat every file as created.
func (s *Store) ClearDataset(ctx context.Context, projectID, datasetID string) error {
	query, args, err := psql.Delete("claude_context.indexed_files").
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("filemeta: build clear: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("filemeta: clear dataset %s: %w", datasetID, err))
	}
	return nil
}

// StatsByLanguage aggregates file and chunk counts per language for a
// dataset.
func (s *Store) StatsByLanguage(ctx context.Context, projectID, datasetID string) ([]LanguageStat, error) {
	query, args, err := psql.Select("coalesce(language, 'unknown') as lang", "count(*)", "coalesce(sum(chunk_count), 0)").
		From("claude_context.indexed_files").
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID}).
		GroupBy("lang").
		OrderBy("lang").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("filemeta: build stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("filemeta: stats: %w", err))
	}
	defer rows.Close()

	var stats []LanguageStat
	for rows.Next() {
		var st LanguageStat
		if err := rows.Scan(&st.Language, &st.FileCount, &st.ChunkCount); err != nil {
			return nil, fmt.Errorf("filemeta: scan stat: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Get returns a single file's metadata, or a NotFound error.
func (s *Store) Get(ctx context.Context, projectID, datasetID, filePath string) (File, error) {
	query, args, err := psql.Select("project_id", "dataset_id", "file_path", "relative_path",
		"sha256_hash", "file_size", "chunk_count", "coalesce(language, '')", "collection_name",
		"created_at", "updated_at").
		From("claude_context.indexed_files").
		Where(sq.Eq{"project_id": projectID, "dataset_id": datasetID, "file_path": filePath}).
		ToSql()
	if err != nil {
		return File{}, fmt.Errorf("filemeta: build get: %w", err)
	}

	var f File
	row := s.pool.QueryRow(ctx, query, args...)
	err = row.Scan(&f.ProjectID, &f.DatasetID, &f.FilePath, &f.RelativePath,
		&f.SHA256Hash, &f.FileSize, &f.ChunkCount, &f.Language, &f.CollectionName,
		&f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return File{}, observability.NotFound("indexed_file", filePath)
	}
	if err != nil {
		return File{}, observability.Transient(fmt.Errorf("filemeta: get %s: %w", filePath, err))
	}
	return f, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

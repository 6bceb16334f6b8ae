// Package pgstore implements vectorstore.VectorStore over PostgreSQL
// using the pgvector extension for dense similarity and pg_trgm for the
// keyword side of hybrid search. It is the default store: every
// dataset's collection lives as a logical partition (by
// collection_name) of one physical table, ported from the teacher's
// single-table hybrid design in its SQLite store.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const table = "claude_context.vector_points"

// Store is a PostgreSQL-backed vectorstore.VectorStore.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool. The claude_context schema,
// including vector_points and collections_metadata, must already be
// migrated (see internal/dbschema).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	query, args, err := psql.Insert("claude_context.collections_metadata").
		Columns("collection_name", "dimension", "is_hybrid").
		Values(spec.Name, spec.Dimension, spec.Hybrid).
		Suffix("ON CONFLICT (collection_name) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("pgstore: build create collection: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("pgstore: create collection %s: %w", spec.Name, err))
	}
	return nil
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return observability.Transient(fmt.Errorf("pgstore: begin drop: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE collection_name = $1`, name); err != nil {
		return observability.Transient(fmt.Errorf("pgstore: drop points %s: %w", name, err))
	}
	if _, err := tx.Exec(ctx, `DELETE FROM claude_context.collections_metadata WHERE collection_name = $1`, name); err != nil {
		return observability.Transient(fmt.Errorf("pgstore: drop collection %s: %w", name, err))
	}
	return tx.Commit(ctx)
}

func (s *Store) HasCollection(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claude_context.collections_metadata WHERE collection_name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, observability.Transient(fmt.Errorf("pgstore: has collection %s: %w", name, err))
	}
	return exists, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT collection_name FROM claude_context.collections_metadata ORDER BY collection_name`)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("pgstore: list collections: %w", err))
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("pgstore: scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, collection string, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return observability.Transient(fmt.Errorf("pgstore: begin upsert: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		metadata, err := json.Marshal(doc.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("pgstore: marshal metadata for %s: %w", doc.ID, err)
		}

		query, args, err := psql.Insert(table).
			Columns("id", "collection_name", "embedding", "summary_embedding", "content",
				"relative_path", "start_line", "end_line", "file_extension", "project_id",
				"dataset_id", "source_type", "repo", "branch", "sha", "lang", "symbol", "metadata", "updated_at").
			Values(doc.ID, collection, vectorAsParam(doc.Vector), vectorAsParam(doc.SummaryVector),
				doc.Payload.Content, doc.Payload.RelativePath, doc.Payload.StartLine, doc.Payload.EndLine,
				doc.Payload.FileExtension, doc.Payload.ProjectID, doc.Payload.DatasetID,
				doc.Payload.SourceType, doc.Payload.Repo, doc.Payload.Branch, doc.Payload.SHA,
				doc.Payload.Lang, doc.Payload.Symbol, metadata, sq.Expr("now()")).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				summary_embedding = EXCLUDED.summary_embedding,
				content = EXCLUDED.content,
				relative_path = EXCLUDED.relative_path,
				start_line = EXCLUDED.start_line,
				end_line = EXCLUDED.end_line,
				metadata = EXCLUDED.metadata,
				updated_at = now()`).
			ToSql()
		if err != nil {
			return fmt.Errorf("pgstore: build upsert %s: %w", doc.ID, err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return observability.Transient(fmt.Errorf("pgstore: upsert %s: %w", doc.ID, err))
		}
	}

	return tx.Commit(ctx)
}

func vectorAsParam(v embedding.Vector) interface{} {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func (s *Store) DeleteByID(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := psql.Delete(table).
		Where(sq.Eq{"collection_name": collection, "id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("pgstore: build delete by id: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("pgstore: delete by id: %w", err))
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	builder := psql.Delete(table).Where(sq.Eq{"collection_name": collection})
	builder = applyDeleteFilter(builder, filter)

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("pgstore: build delete by filter: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return observability.Transient(fmt.Errorf("pgstore: delete by filter: %w", err))
	}
	return nil
}

func (s *Store) UpdateRelativePath(ctx context.Context, collection, oldPath, newPath string) (int, error) {
	query, args, err := psql.Update(table).
		Set("relative_path", newPath).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"collection_name": collection, "relative_path": oldPath}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("pgstore: build rename: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, observability.Transient(fmt.Errorf("pgstore: rename %s -> %s: %w", oldPath, newPath, err))
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SearchVector(ctx context.Context, collection string, vector embedding.Vector, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	builder := psql.Select("id", "content", "relative_path", "start_line", "end_line", "file_extension",
		"project_id", "dataset_id", "source_type", "repo", "branch", "sha", "lang", "symbol", "metadata").
		Column("1 - (embedding <=> ?)", pgvector.NewVector(vector)).
		From(table).
		Where(sq.Eq{"collection_name": collection}).
		OrderByClause("embedding <=> ?", pgvector.NewVector(vector)).
		Limit(uint64(limit))
	builder = applyFilter(builder, opts.Filter)

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore: build vector search: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("pgstore: vector search: %w", err))
	}
	defer rows.Close()

	return scanResults(rows, "dense", opts.Threshold)
}

func (s *Store) SearchHybrid(ctx context.Context, collection string, query string, vector embedding.Vector, sparse map[uint32]float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	dense, err := s.SearchVector(ctx, collection, vector, vectorstore.SearchOptions{Limit: opts.Limit * 2, Filter: opts.Filter})
	if err != nil {
		return nil, err
	}

	keyword, err := s.searchTrigram(ctx, collection, query, opts.Filter, opts.Limit*2)
	if err != nil {
		return nil, err
	}

	fused := reciprocalRankFusion(dense, keyword, 60)
	if opts.Limit > 0 && len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	for i := range fused {
		fused[i].Method = "hybrid"
	}
	return fused, nil
}

func (s *Store) searchTrigram(ctx context.Context, collection, query string, filter vectorstore.Filter, limit int) ([]vectorstore.SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	builder := psql.Select("id", "content", "relative_path", "start_line", "end_line", "file_extension",
		"project_id", "dataset_id", "source_type", "repo", "branch", "sha", "lang", "symbol", "metadata").
		Column("similarity(content, ?)", query).
		From(table).
		Where(sq.Eq{"collection_name": collection}).
		Where("content % ?", query).
		OrderByClause("similarity(content, ?) DESC", query).
		Limit(uint64(limit))
	builder = applyFilter(builder, filter)

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("pgstore: build trigram search: %w", err)
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("pgstore: trigram search: %w", err))
	}
	defer rows.Close()

	return scanResults(rows, "sparse", 0)
}

func scanResults(rows pgx.Rows, method string, threshold float32) ([]vectorstore.SearchResult, error) {
	var results []vectorstore.SearchResult
	for rows.Next() {
		var doc vectorstore.Document
		var metadataRaw []byte
		var score float32
		if err := rows.Scan(&doc.ID, &doc.Payload.Content, &doc.Payload.RelativePath,
			&doc.Payload.StartLine, &doc.Payload.EndLine, &doc.Payload.FileExtension,
			&doc.Payload.ProjectID, &doc.Payload.DatasetID, &doc.Payload.SourceType,
			&doc.Payload.Repo, &doc.Payload.Branch, &doc.Payload.SHA, &doc.Payload.Lang,
			&doc.Payload.Symbol, &metadataRaw, &score); err != nil {
			return nil, fmt.Errorf("pgstore: scan result: %w", err)
		}
		if threshold > 0 && score < threshold {
			continue
		}
		if len(metadataRaw) > 0 {
			_ = json.Unmarshal(metadataRaw, &doc.Payload.Metadata)
		}
		results = append(results, vectorstore.SearchResult{Document: doc, Score: score, Method: method})
	}
	return results, rows.Err()
}

func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+table+` WHERE collection_name = $1`, collection).Scan(&count)
	if err != nil {
		return 0, observability.Transient(fmt.Errorf("pgstore: count %s: %w", collection, err))
	}
	return count, nil
}

func (s *Store) SupportsHybrid() bool       { return true }
func (s *Store) SupportsNamedVectors() bool { return true }
func (s *Store) Close() error               { s.pool.Close(); return nil }

func applyDeleteFilter(builder sq.DeleteBuilder, f vectorstore.Filter) sq.DeleteBuilder {
	if f.ProjectID != "" {
		builder = builder.Where(sq.Eq{"project_id": f.ProjectID})
	}
	if len(f.DatasetIDs) > 0 {
		builder = builder.Where(sq.Eq{"dataset_id": f.DatasetIDs})
	}
	if f.SourceType != "" {
		builder = builder.Where(sq.Eq{"source_type": f.SourceType})
	}
	if f.RepoPrefix != "" {
		builder = builder.Where("repo LIKE ?", f.RepoPrefix+"%")
	}
	if f.PathPrefix != "" {
		builder = builder.Where("relative_path LIKE ?", f.PathPrefix+"%")
	}
	if f.RelativePath != "" {
		builder = builder.Where(sq.Eq{"relative_path": f.RelativePath})
	}
	if f.Lang != "" {
		builder = builder.Where(sq.Eq{"lang": f.Lang})
	}
	return builder
}

func applyFilter(builder sq.SelectBuilder, f vectorstore.Filter) sq.SelectBuilder {
	if f.ProjectID != "" {
		builder = builder.Where(sq.Eq{"project_id": f.ProjectID})
	}
	if len(f.DatasetIDs) > 0 {
		builder = builder.Where(sq.Eq{"dataset_id": f.DatasetIDs})
	}
	if f.SourceType != "" {
		builder = builder.Where(sq.Eq{"source_type": f.SourceType})
	}
	if f.RepoPrefix != "" {
		builder = builder.Where("repo LIKE ?", f.RepoPrefix+"%")
	}
	if f.PathPrefix != "" {
		builder = builder.Where("relative_path LIKE ?", f.PathPrefix+"%")
	}
	if f.RelativePath != "" {
		builder = builder.Where(sq.Eq{"relative_path": f.RelativePath})
	}
	if f.Lang != "" {
		builder = builder.Where(sq.Eq{"lang": f.Lang})
	}
	return builder
}

// reciprocalRankFusion merges dense and keyword result lists, ported
// from the teacher's SQLite hybrid search (applyRRF).
func reciprocalRankFusion(dense, keyword []vectorstore.SearchResult, k float32) []vectorstore.SearchResult {
	scores := make(map[string]float32)
	docs := make(map[string]vectorstore.Document)
	for rank, r := range dense {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}
	for rank, r := range keyword {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}

	results := make([]vectorstore.SearchResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, vectorstore.SearchResult{Document: docs[id], Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// Package qdrant implements vectorstore.VectorStore against a remote
// Qdrant instance over gRPC, grounded on the go-client usage pattern
// from the retrieved codebase-semantic-search-mcp project, extended
// with named dense/summary/sparse vectors for hybrid collections and
// payload filters scoped to project/dataset.
package qdrant

import (
	"context"
	"fmt"

	gocli "github.com/qdrant/go-client/qdrant"

	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

const (
	vectorDense   = "content_dense"
	vectorSummary = "summary_dense"
	vectorSparse  = "sparse"
)

// Store is a Qdrant-backed vectorstore.VectorStore.
type Store struct {
	client *gocli.Client
}

// Config is the connection configuration for a Qdrant deployment.
type Config struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string
}

// New dials a Qdrant instance over gRPC.
func New(cfg Config) (*Store, error) {
	client, err := gocli.NewClient(&gocli.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("qdrant: connect: %w", err))
	}
	return &Store{client: client}, nil
}

func (s *Store) CreateCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	exists, err := s.HasCollection(ctx, spec.Name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	vectorsConfig := &gocli.VectorsConfig{
		Config: &gocli.VectorsConfig_ParamsMap{
			ParamsMap: &gocli.VectorParamsMap{
				Map: namedVectorParams(spec),
			},
		},
	}

	err = s.client.CreateCollection(ctx, &gocli.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig:  vectorsConfig,
	})
	if err != nil {
		return observability.Transient(fmt.Errorf("qdrant: create collection %s: %w", spec.Name, err))
	}
	return nil
}

func namedVectorParams(spec vectorstore.CollectionSpec) map[string]*gocli.VectorParams {
	params := map[string]*gocli.VectorParams{
		vectorDense: {Size: uint64(spec.Dimension), Distance: gocli.Distance_Cosine},
	}
	if spec.NamedDense {
		params[vectorSummary] = &gocli.VectorParams{Size: uint64(spec.Dimension), Distance: gocli.Distance_Cosine}
	}
	if spec.Hybrid {
		params[vectorSparse] = &gocli.VectorParams{Size: uint64(spec.Dimension), Distance: gocli.Distance_Dot}
	}
	return params
}

func (s *Store) DropCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return observability.Transient(fmt.Errorf("qdrant: drop collection %s: %w", name, err))
	}
	return nil
}

func (s *Store) HasCollection(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, observability.Transient(fmt.Errorf("qdrant: has collection %s: %w", name, err))
	}
	return exists, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("qdrant: list collections: %w", err))
	}
	return names, nil
}

func (s *Store) Upsert(ctx context.Context, collection string, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*gocli.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &gocli.PointStruct{
			Id:      gocli.NewID(doc.ID),
			Vectors: namedVectors(doc),
			Payload: payloadToValues(doc.Payload),
		}
	}

	_, err := s.client.Upsert(ctx, &gocli.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	})
	if err != nil {
		return observability.Transient(fmt.Errorf("qdrant: upsert into %s: %w", collection, err))
	}
	return nil
}

func namedVectors(doc vectorstore.Document) *gocli.Vectors {
	named := map[string]*gocli.Vector{
		vectorDense: {Data: doc.Vector},
	}
	if len(doc.SummaryVector) > 0 {
		named[vectorSummary] = &gocli.Vector{Data: doc.SummaryVector}
	}
	return &gocli.Vectors{
		VectorsOptions: &gocli.Vectors_Vectors{
			Vectors: &gocli.NamedVectors{Vectors: named},
		},
	}
}

func payloadToValues(p vectorstore.Payload) map[string]*gocli.Value {
	values := map[string]*gocli.Value{
		"content":        gocli.NewValueString(p.Content),
		"relative_path":  gocli.NewValueString(p.RelativePath),
		"start_line":     gocli.NewValueInt(int64(p.StartLine)),
		"end_line":       gocli.NewValueInt(int64(p.EndLine)),
		"file_extension": gocli.NewValueString(p.FileExtension),
		"project_id":     gocli.NewValueString(p.ProjectID),
		"dataset_id":     gocli.NewValueString(p.DatasetID),
		"source_type":    gocli.NewValueString(p.SourceType),
		"repo":           gocli.NewValueString(p.Repo),
		"branch":         gocli.NewValueString(p.Branch),
		"sha":            gocli.NewValueString(p.SHA),
		"lang":           gocli.NewValueString(p.Lang),
		"symbol":         gocli.NewValueString(p.Symbol),
	}
	return values
}

func (s *Store) DeleteByID(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]*gocli.PointId, len(ids))
	for i, id := range ids {
		points[i] = gocli.NewID(id)
	}
	_, err := s.client.Delete(ctx, &gocli.DeletePoints{
		CollectionName: collection,
		Points: &gocli.PointsSelector{
			PointsSelectorOneOf: &gocli.PointsSelector_Points{
				Points: &gocli.PointsIdsList{Ids: points},
			},
		},
	})
	if err != nil {
		return observability.Transient(fmt.Errorf("qdrant: delete by id in %s: %w", collection, err))
	}
	return nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error {
	_, err := s.client.Delete(ctx, &gocli.DeletePoints{
		CollectionName: collection,
		Points: &gocli.PointsSelector{
			PointsSelectorOneOf: &gocli.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	if err != nil {
		return observability.Transient(fmt.Errorf("qdrant: delete by filter in %s: %w", collection, err))
	}
	return nil
}

// UpdateRelativePath issues one SetPayload call filtered by the old
// path. SetPayload merges the new relative_path into each matching
// point's payload, leaving its other keys and its vectors unchanged.
func (s *Store) UpdateRelativePath(ctx context.Context, collection, oldPath, newPath string) (int, error) {
	filter := &gocli.Filter{
		Must: []*gocli.Condition{matchKeyword("relative_path", oldPath)},
	}
	_, err := s.client.SetPayload(ctx, &gocli.SetPayloadPoints{
		CollectionName: collection,
		Payload:        map[string]*gocli.Value{"relative_path": gocli.NewValueString(newPath)},
		PointsSelector: &gocli.PointsSelector{
			PointsSelectorOneOf: &gocli.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, observability.Transient(fmt.Errorf("qdrant: rename %s -> %s in %s: %w", oldPath, newPath, collection, err))
	}
	return -1, nil // Qdrant does not report affected-row counts for filter updates.
}

func (s *Store) SearchVector(ctx context.Context, collection string, vector embedding.Vector, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}

	results, err := s.client.Query(ctx, &gocli.QueryPoints{
		CollectionName: collection,
		Query:          gocli.NewQuery(vector...),
		Using:          strPtr(vectorDense),
		Filter:         buildFilter(opts.Filter),
		Limit:          &limit,
		WithPayload:    &gocli.WithPayloadSelector{SelectorOptions: &gocli.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("qdrant: search %s: %w", collection, err))
	}
	return toSearchResults(results, "dense", opts.Threshold), nil
}

func (s *Store) SearchHybrid(ctx context.Context, collection string, query string, vector embedding.Vector, sparse map[uint32]float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchResult, error) {
	dense, err := s.SearchVector(ctx, collection, vector, vectorstore.SearchOptions{Limit: opts.Limit, Filter: opts.Filter})
	if err != nil {
		return nil, err
	}
	if len(sparse) == 0 {
		for i := range dense {
			dense[i].Method = "hybrid"
		}
		return dense, nil
	}

	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}
	indices, values := sparseVectorParts(sparse)
	results, err := s.client.Query(ctx, &gocli.QueryPoints{
		CollectionName: collection,
		Query:          gocli.NewQuerySparse(indices, values),
		Using:          strPtr(vectorSparse),
		Filter:         buildFilter(opts.Filter),
		Limit:          &limit,
		WithPayload:    &gocli.WithPayloadSelector{SelectorOptions: &gocli.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, observability.Transient(fmt.Errorf("qdrant: sparse search %s: %w", collection, err))
	}
	sparseResults := toSearchResults(results, "sparse", 0)

	fused := fuseRanked(dense, sparseResults, 60)
	if opts.Limit > 0 && len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	return fused, nil
}

func sparseVectorParts(sparse map[uint32]float32) ([]uint32, []float32) {
	indices := make([]uint32, 0, len(sparse))
	values := make([]float32, 0, len(sparse))
	for idx, val := range sparse {
		indices = append(indices, idx)
		values = append(values, val)
	}
	return indices, values
}

func fuseRanked(a, b []vectorstore.SearchResult, k float32) []vectorstore.SearchResult {
	scores := make(map[string]float32)
	docs := make(map[string]vectorstore.Document)
	for rank, r := range a {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}
	for rank, r := range b {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}
	out := make([]vectorstore.SearchResult, 0, len(scores))
	for id, score := range scores {
		out = append(out, vectorstore.SearchResult{Document: docs[id], Score: score, Method: "hybrid"})
	}
	return out
}

func toSearchResults(points []*gocli.ScoredPoint, method string, threshold float32) []vectorstore.SearchResult {
	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, p := range points {
		if threshold > 0 && p.Score < threshold {
			continue
		}
		payload := p.GetPayload()
		results = append(results, vectorstore.SearchResult{
			Document: vectorstore.Document{
				ID: p.GetId().GetUuid(),
				Payload: vectorstore.Payload{
					Content:       payload["content"].GetStringValue(),
					RelativePath:  payload["relative_path"].GetStringValue(),
					StartLine:     int(payload["start_line"].GetIntegerValue()),
					EndLine:       int(payload["end_line"].GetIntegerValue()),
					FileExtension: payload["file_extension"].GetStringValue(),
					ProjectID:     payload["project_id"].GetStringValue(),
					DatasetID:     payload["dataset_id"].GetStringValue(),
					SourceType:    payload["source_type"].GetStringValue(),
					Repo:          payload["repo"].GetStringValue(),
					Branch:        payload["branch"].GetStringValue(),
					SHA:           payload["sha"].GetStringValue(),
					Lang:          payload["lang"].GetStringValue(),
					Symbol:        payload["symbol"].GetStringValue(),
				},
			},
			Score:  p.Score,
			Method: method,
		})
	}
	return results
}

func buildFilter(f vectorstore.Filter) *gocli.Filter {
	var must []*gocli.Condition
	if f.ProjectID != "" {
		must = append(must, matchKeyword("project_id", f.ProjectID))
	}
	if len(f.DatasetIDs) == 1 {
		must = append(must, matchKeyword("dataset_id", f.DatasetIDs[0]))
	} else if len(f.DatasetIDs) > 1 {
		var should []*gocli.Condition
		for _, id := range f.DatasetIDs {
			should = append(should, matchKeyword("dataset_id", id))
		}
		must = append(must, &gocli.Condition{
			ConditionOneOf: &gocli.Condition_Filter{Filter: &gocli.Filter{Should: should}},
		})
	}
	if f.SourceType != "" {
		must = append(must, matchKeyword("source_type", f.SourceType))
	}
	if f.RelativePath != "" {
		must = append(must, matchKeyword("relative_path", f.RelativePath))
	}
	if f.Lang != "" {
		must = append(must, matchKeyword("lang", f.Lang))
	}
	if len(must) == 0 {
		return nil
	}
	return &gocli.Filter{Must: must}
}

func matchKeyword(key, value string) *gocli.Condition {
	return &gocli.Condition{
		ConditionOneOf: &gocli.Condition_Field{
			Field: &gocli.FieldCondition{
				Key:   key,
				Match: &gocli.Match{MatchValue: &gocli.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	count, err := s.client.Count(ctx, &gocli.CountPoints{CollectionName: collection})
	if err != nil {
		return 0, observability.Transient(fmt.Errorf("qdrant: count %s: %w", collection, err))
	}
	return int64(count), nil
}

func (s *Store) SupportsHybrid() bool       { return true }
func (s *Store) SupportsNamedVectors() bool { return true }
func (s *Store) Close() error               { return s.client.Close() }

func strPtr(s string) *string { return &s }

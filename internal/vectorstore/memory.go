package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/indexforge/indexforge/internal/embedding"
)

// MemoryStore is an in-memory, collection-aware VectorStore used as a
// test double and as the target for unit tests that exercise sync,
// ingest, and query logic without a real Postgres or Qdrant instance.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	spec documents
}

type documents map[string]Document

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (m *MemoryStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[spec.Name]; ok {
		return nil
	}
	m.collections[spec.Name] = &memCollection{spec: make(documents)}
	return nil
}

func (m *MemoryStore) DropCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryStore) HasCollection(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryStore) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) coll(name string) (*memCollection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("vectorstore: collection %q does not exist", name)
	}
	return c, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, collection string, docs []Document) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("vectorstore: document id cannot be empty")
		}
		if existing, ok := c.spec[doc.ID]; ok {
			doc.CreatedAt = existing.CreatedAt
		} else {
			doc.CreatedAt = now
		}
		doc.UpdatedAt = now
		c.spec[doc.ID] = doc
	}
	return nil
}

func (m *MemoryStore) DeleteByID(ctx context.Context, collection string, ids []string) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(c.spec, id)
	}
	return nil
}

func (m *MemoryStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range c.spec {
		if matchesFilter(doc.Payload, filter) {
			delete(c.spec, id)
		}
	}
	return nil
}

func (m *MemoryStore) UpdateRelativePath(ctx context.Context, collection, oldPath, newPath string) (int, error) {
	c, err := m.coll(collection)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for id, doc := range c.spec {
		if doc.Payload.RelativePath == oldPath {
			doc.Payload.RelativePath = newPath
			doc.UpdatedAt = time.Now()
			c.spec[id] = doc
			updated++
		}
	}
	return updated, nil
}

func (m *MemoryStore) SearchVector(ctx context.Context, collection string, vector embedding.Vector, opts SearchOptions) ([]SearchResult, error) {
	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, doc := range c.spec {
		if !matchesFilter(doc.Payload, opts.Filter) {
			continue
		}
		score := cosineSimilarity(vector, doc.Vector)
		if opts.Threshold > 0 && score < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score, Method: "dense"})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (m *MemoryStore) SearchHybrid(ctx context.Context, collection string, query string, vector embedding.Vector, sparse map[uint32]float32, opts SearchOptions) ([]SearchResult, error) {
	dense, err := m.SearchVector(ctx, collection, vector, SearchOptions{Limit: opts.Limit * 2, Filter: opts.Filter})
	if err != nil {
		return nil, err
	}

	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	var keyword []SearchResult
	if query != "" {
		terms := tokenize(query)
		for _, doc := range c.spec {
			if !matchesFilter(doc.Payload, opts.Filter) {
				continue
			}
			score := bm25ish(doc.Payload.Content, terms)
			if score <= 0 {
				continue
			}
			keyword = append(keyword, SearchResult{Document: doc, Score: score, Method: "sparse"})
		}
	}
	m.mu.RUnlock()
	sort.Slice(keyword, func(i, j int) bool { return keyword[i].Score > keyword[j].Score })

	fused := reciprocalRankFusion(dense, keyword, 60)
	if opts.Limit > 0 && len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	for i := range fused {
		fused[i].Method = "hybrid"
	}
	return fused, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string) (int64, error) {
	c, err := m.coll(collection)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(c.spec)), nil
}

func (m *MemoryStore) SupportsHybrid() bool       { return true }
func (m *MemoryStore) SupportsNamedVectors() bool { return true }
func (m *MemoryStore) Close() error               { return nil }

func matchesFilter(p Payload, f Filter) bool {
	if f.ProjectID != "" && p.ProjectID != f.ProjectID {
		return false
	}
	if len(f.DatasetIDs) > 0 {
		found := false
		for _, id := range f.DatasetIDs {
			if id == p.DatasetID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.SourceType != "" && p.SourceType != f.SourceType {
		return false
	}
	if f.RepoPrefix != "" && !strings.HasPrefix(p.Repo, f.RepoPrefix) {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(p.RelativePath, f.PathPrefix) {
		return false
	}
	if f.RelativePath != "" && p.RelativePath != f.RelativePath {
		return false
	}
	if f.Lang != "" && p.Lang != f.Lang {
		return false
	}
	return true
}

// reciprocalRankFusion merges two rank-ordered result lists by RRF,
// ported from the teacher's sqlite hybrid search fusion.
func reciprocalRankFusion(a, b []SearchResult, k float32) []SearchResult {
	scores := make(map[string]float32)
	docs := make(map[string]Document)
	for rank, r := range a {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}
	for rank, r := range b {
		scores[r.Document.ID] += 1.0 / (k + float32(rank+1))
		docs[r.Document.ID] = r.Document
	}

	results := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, SearchResult{Document: docs[id], Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

func cosineSimilarity(a, b embedding.Vector) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	terms := make([]string, 0, len(fields))
	for _, w := range fields {
		w = strings.Trim(w, ".,!?;:\"'()[]{}")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

func bm25ish(content string, queryTerms []string) float32 {
	contentLower := strings.ToLower(content)
	var score float32
	for _, term := range queryTerms {
		if strings.Contains(contentLower, term) {
			score++
		}
	}
	return score
}

package query

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/scope"
	"github.com/indexforge/indexforge/internal/vectorstore"
)

// defaultOversampleFactor controls how many candidates are pulled per
// collection before the cross-dataset top-K merge, so a collection
// with many near-duplicate-scored chunks doesn't starve the merge of
// candidates from other collections.
const defaultOversampleFactor = 3

// Request is one search call's input.
type Request struct {
	Project  string
	Datasets []string // nil/empty => all accessible
	Query    string
	TopK     int
	Filters  Filters
	Deadline time.Duration // 0 uses DefaultDeadline
}

// Filters are the optional user-supplied refinements layered onto the
// mandatory project/dataset access-control constraint.
type Filters struct {
	SourceType string
	RepoPrefix string
	PathPrefix string
	Lang       string
}

// DefaultDeadline bounds a search's total wall-clock time when the
// caller does not specify one.
const DefaultDeadline = 5 * time.Second

// Scores carries every ranking signal computed for a result, so a
// caller can see how a chunk was ranked rather than just its final
// position.
type Scores struct {
	Vector float32
	Sparse float32
	Rerank float32
	Final  float32
}

// DatasetRef identifies the dataset a result came from.
type DatasetRef struct {
	Project   string
	Dataset   string
	DatasetID string
}

// Source locates a result within its originating file or page.
type Source struct {
	RelativePath string
	StartLine    int
	EndLine      int
	Repo         string
	Branch       string
}

// Result is one ranked search hit.
type Result struct {
	ChunkID string
	Content string
	Scores  Scores
	Dataset DatasetRef
	Source  Source
}

// Timing records how long each pipeline stage took.
type Timing struct {
	EmbeddingMs int64
	SearchMs    int64
	TotalMs     int64
}

// Metadata accompanies a Response describing how it was produced.
type Metadata struct {
	RetrievalMethod string
	Timing          Timing
	QueriesExecuted int
}

// Response is a completed search's output.
type Response struct {
	RequestID string
	Results   []Result
	Metadata  Metadata
}

// Reranker optionally rescoring the top-K candidates of a completed
// search before it is returned.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []Result) ([]Result, error)
}

// Planner resolves a Request into a fan-out vector search across every
// accessible dataset and merges the results into one ranked response.
type Planner struct {
	scope    *scope.Manager
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	sparse   embedding.SparseEncoder         // nil disables hybrid queries
	reranker Reranker                        // nil skips the rerank pass
	metrics  *observability.MetricsCollector // nil disables metrics
}

// NewPlanner creates a Planner. sparse, reranker, and metrics are all
// optional; pass nil to disable hybrid search, reranking, or metrics
// recording respectively.
func NewPlanner(scopeMgr *scope.Manager, store vectorstore.VectorStore, embedder embedding.Embedder, sparse embedding.SparseEncoder, reranker Reranker, metrics *observability.MetricsCollector) *Planner {
	return &Planner{scope: scopeMgr, store: store, embedder: embedder, sparse: sparse, reranker: reranker, metrics: metrics}
}

// Plan executes req's search pipeline: resolve project and accessible
// datasets, expand the dataset selector, embed the query once, fan out
// one goroutine per selected collection bounded by req.Deadline, merge
// and dedupe results, then optionally rerank the top candidates.
func (p *Planner) Plan(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	projectID, ok, err := p.scope.LookupProject(ctx, req.Project)
	if err != nil {
		return nil, fmt.Errorf("query: lookup project: %w", err)
	}
	if !ok {
		return &Response{RequestID: uuid.NewString(), Results: []Result{}}, nil
	}

	accessible, err := p.scope.ListAccessibleDatasets(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("query: list accessible datasets: %w", err)
	}

	predicate, _ := ResolvePatterns(req.Datasets)
	selected := make([]scope.Dataset, 0, len(accessible))
	for _, d := range accessible {
		if predicate.Match(d.Name) {
			selected = append(selected, d)
		}
	}
	if len(selected) == 0 {
		return &Response{RequestID: uuid.NewString(), Results: []Result{}}, nil
	}

	embedStart := time.Now()
	vec, err := p.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("query: embed query: %w", err)
	}
	var sparseVec map[uint32]float32
	if p.sparse != nil {
		sparseVec, err = p.sparse.EncodeSparse(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("query: encode sparse query: %w", err)
		}
	}
	embeddingMs := time.Since(embedStart).Milliseconds()

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}

	if p.metrics != nil {
		p.metrics.RecordQueryFanOut("default", len(selected))
	}

	searchStart := time.Now()
	perCollection := make([][]Result, len(selected))
	var dropped int32
	g, gctx := errgroup.WithContext(searchCtx)
	for i, d := range selected {
		i, d := i, d
		g.Go(func() error {
			results, err := p.searchDataset(gctx, req, projectID, d, vec.Vector, sparseVec, topK)
			if err != nil {
				// A per-collection failure (including deadline
				// exceeded) is dropped rather than failing the whole
				// request: partial results from collections that
				// answered in time are kept.
				atomic.AddInt32(&dropped, 1)
				return nil
			}
			perCollection[i] = results
			return nil
		})
	}
	_ = g.Wait()
	searchMs := time.Since(searchStart).Milliseconds()

	if dropped > 0 && p.metrics != nil {
		p.metrics.RecordQueryPartial("default")
	}

	merged := mergeResults(perCollection, topK)

	method := "dense"
	if p.sparse != nil {
		method = "hybrid"
	}

	if p.reranker != nil && len(merged) > 0 {
		reranked, err := p.reranker.Rerank(ctx, req.Query, merged)
		if err == nil {
			merged = reranked
		}
	}

	return &Response{
		RequestID: uuid.NewString(),
		Results:   merged,
		Metadata: Metadata{
			RetrievalMethod: method,
			Timing: Timing{
				EmbeddingMs: embeddingMs,
				SearchMs:    searchMs,
				TotalMs:     time.Since(start).Milliseconds(),
			},
			QueriesExecuted: len(selected),
		},
	}, nil
}

func (p *Planner) searchDataset(ctx context.Context, req Request, projectID string, d scope.Dataset, vec embedding.Vector, sparseVec map[uint32]float32, topK int) ([]Result, error) {
	collection := scope.CollectionNameFor(projectID, d.ID)
	has, err := p.store.HasCollection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	filter := vectorstore.Filter{
		ProjectID:  projectID,
		DatasetIDs: []string{d.ID},
		SourceType: req.Filters.SourceType,
		RepoPrefix: req.Filters.RepoPrefix,
		PathPrefix: req.Filters.PathPrefix,
		Lang:       req.Filters.Lang,
	}
	opts := vectorstore.SearchOptions{Limit: topK * defaultOversampleFactor, Filter: filter}

	var hits []vectorstore.SearchResult
	if sparseVec != nil && p.store.SupportsHybrid() {
		hits, err = p.store.SearchHybrid(ctx, collection, req.Query, vec, sparseVec, opts)
	} else {
		hits, err = p.store.SearchVector(ctx, collection, vec, opts)
	}
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{
			ChunkID: h.Document.ID,
			Content: h.Document.Payload.Content,
			Scores:  scoresFor(h),
			Dataset: DatasetRef{Project: req.Project, Dataset: d.Name, DatasetID: d.ID},
			Source: Source{
				RelativePath: h.Document.Payload.RelativePath,
				StartLine:    h.Document.Payload.StartLine,
				EndLine:      h.Document.Payload.EndLine,
				Repo:         h.Document.Payload.Repo,
				Branch:       h.Document.Payload.Branch,
			},
		}
	}
	return results, nil
}

func scoresFor(h vectorstore.SearchResult) Scores {
	s := Scores{Final: h.Score}
	switch h.Method {
	case "sparse":
		s.Sparse = h.Score
	case "hybrid":
		s.Vector = h.Score
		s.Sparse = h.Score
	default:
		s.Vector = h.Score
	}
	return s
}

// mergeResults flattens per-collection result sets, dedupes by chunk
// id keeping the highest final score, and returns the global top-K
// ordered by descending score.
func mergeResults(perCollection [][]Result, topK int) []Result {
	best := make(map[string]Result)
	for _, results := range perCollection {
		for _, r := range results {
			existing, ok := best[r.ChunkID]
			if !ok || r.Scores.Final > existing.Scores.Final {
				best[r.ChunkID] = r
			}
		}
	}

	merged := make([]Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Scores.Final > merged[j].Scores.Final
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

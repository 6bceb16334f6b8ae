// Package vectorstore provides collection-aware storage abstractions over
// dense and hybrid vector search backends.
package vectorstore

import (
	"context"
	"time"

	"github.com/indexforge/indexforge/internal/embedding"
)

// Payload is the set of fields recorded alongside every vector point,
// matching the chunk metadata a query needs to filter and render a result.
type Payload struct {
	Content       string
	RelativePath  string
	StartLine     int
	EndLine       int
	FileExtension string
	ProjectID     string
	DatasetID     string
	SourceType    string // "code" or "web"
	Repo          string
	Branch        string
	SHA           string
	Lang          string
	Symbol        string
	Metadata      map[string]interface{}
}

// Document is a single vector point: one dense vector, one optional
// summary vector, and an optional sparse vector for hybrid collections.
type Document struct {
	ID            string
	Vector        embedding.Vector
	SummaryVector embedding.Vector
	SparseVector  map[uint32]float32
	Payload       Payload
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filter constrains a search or delete-by-filter call. ProjectID and
// DatasetIDs are mandatory access-control constraints; the rest are
// optional user-supplied refinements.
type Filter struct {
	ProjectID  string
	DatasetIDs []string
	SourceType string
	RepoPrefix string
	PathPrefix string
	// RelativePath, when set, constrains to an exact path match rather
	// than a prefix. Use this for single-file deletes: PathPrefix would
	// also match "app.py.bak" or "app.pyi" when deleting "app.py".
	RelativePath string
	Lang         string
}

// SearchResult is a single ranked match.
type SearchResult struct {
	Document Document
	Score    float32
	Method   string // "dense", "sparse", or "hybrid"
}

// SearchOptions configures a single-collection search call.
type SearchOptions struct {
	Limit     int
	Threshold float32
	Filter    Filter
	Rerank    bool
}

// CollectionSpec describes a collection to create.
type CollectionSpec struct {
	Name       string
	Dimension  int
	Hybrid     bool // reserve named dense+sparse vectors
	NamedDense bool // reserve a separate summary_dense vector
}

// VectorStore is the collection-aware store every dataset's collection is
// created in and queried against. Implementations gate optional
// capabilities behind SupportsHybrid/SupportsNamedVectors rather than
// failing calls that request them.
type VectorStore interface {
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	DropCollection(ctx context.Context, name string) error
	HasCollection(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)

	Upsert(ctx context.Context, collection string, docs []Document) error
	DeleteByID(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// UpdateRelativePath patches the relativePath payload field of every
	// point under oldPath to newPath without touching vectors, used by
	// rename handling so chunks are never re-embedded.
	UpdateRelativePath(ctx context.Context, collection, oldPath, newPath string) (updated int, err error)

	SearchVector(ctx context.Context, collection string, vector embedding.Vector, opts SearchOptions) ([]SearchResult, error)
	SearchHybrid(ctx context.Context, collection string, query string, vector embedding.Vector, sparse map[uint32]float32, opts SearchOptions) ([]SearchResult, error)

	Count(ctx context.Context, collection string) (int64, error)

	SupportsHybrid() bool
	SupportsNamedVectors() bool

	Close() error
}

// Package events defines the outbound event envelope emitted onto the
// subscription bus by monitors, watchers, and the job queue.
package events

import "time"

// Type identifies the kind of payload an Envelope carries.
type Type string

const (
	TypePostgresStats Type = "postgres:stats"
	TypeCrawlProgress Type = "crawl:progress"
	TypeQdrantStats   Type = "qdrant:stats"
	TypeError         Type = "error"
	TypeWatchSync     Type = "watch:sync"
	TypeWatchError    Type = "watch:error"
	TypeWatchEvent    Type = "watch:event"
	TypeConnected     Type = "connected"
)

// Envelope is the single outbound shape every bus subscriber receives,
// regardless of which component produced it.
type Envelope struct {
	Type      Type        `json:"type"`
	Project   string      `json:"project,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProjectSummary is one project's row in a PostgresStats payload.
type ProjectSummary struct {
	Name     string `json:"name"`
	Datasets int    `json:"datasets"`
	Chunks   int64  `json:"chunks"`
	WebPages int64  `json:"webPages"`
}

// RecentCrawl is one row in a PostgresStats payload's recentCrawls list.
type RecentCrawl struct {
	SessionID    string `json:"sessionId"`
	Project      string `json:"project"`
	Dataset      string `json:"dataset"`
	Status       string `json:"status"`
	PagesCrawled int    `json:"pagesCrawled"`
	PagesFailed  int    `json:"pagesFailed"`
	DurationMs   int64  `json:"durationMs"`
}

// PostgresStats is the payload of a TypePostgresStats event.
type PostgresStats struct {
	Projects     []ProjectSummary `json:"projects"`
	RecentCrawls []RecentCrawl    `json:"recentCrawls"`
}

// CrawlProgress is the payload of a TypeCrawlProgress event.
type CrawlProgress struct {
	SessionID           string  `json:"sessionId"`
	Project             string  `json:"project"`
	Dataset             string  `json:"dataset"`
	Phase               string  `json:"phase"`
	CurrentPhase        string  `json:"currentPhase"`
	PhaseDetail         string  `json:"phaseDetail,omitempty"`
	Percentage          float64 `json:"percentage"`
	Current             int     `json:"current"`
	Total               int     `json:"total"`
	Status              string  `json:"status"`
	ChunksProcessed     int     `json:"chunksProcessed"`
	ChunksTotal         int     `json:"chunksTotal"`
	SummariesGenerated  int     `json:"summariesGenerated"`
	EmbeddingsGenerated int     `json:"embeddingsGenerated"`
}

// CollectionStats is one collection's row in a QdrantStats payload.
type CollectionStats struct {
	Collection string `json:"collection"`
	PointCount int64  `json:"pointCount"`
}

// QdrantStats is the payload of a TypeQdrantStats event.
type QdrantStats struct {
	Collections []CollectionStats `json:"collections"`
}

// Error is the payload of a TypeError event.
type Error struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WatchSync is the payload of a TypeWatchSync event.
type WatchSync struct {
	Root          string `json:"root"`
	FilesChanged  int    `json:"filesChanged"`
	FilesDeleted  int    `json:"filesDeleted"`
	FilesRenamed  int    `json:"filesRenamed"`
	ChunksIndexed int    `json:"chunksIndexed"`
	DurationMs    int64  `json:"durationMs"`
}

// WatchErrorData is the payload of a TypeWatchError event.
type WatchErrorData struct {
	Root    string `json:"root"`
	Message string `json:"message"`
}

// WatchEvent is the payload of a TypeWatchEvent event, emitted for a raw
// filesystem event when verbose watch events are enabled.
type WatchEvent struct {
	Root string `json:"root"`
	Path string `json:"path"`
	Op   string `json:"op"`
}

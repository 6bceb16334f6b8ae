package monitor

import (
	"context"
	"time"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/vectorstore"
	"github.com/indexforge/indexforge/pkg/events"
)

const defaultVectorStorePollInterval = 5 * time.Second

// VectorStoreMonitor polls the vector store's collection list and
// per-collection point counts at a low rate, emitting qdrant:stats only
// when a snapshot differs from the one it last published.
type VectorStoreMonitor struct {
	store    vectorstore.VectorStore
	bus      *bus.Bus
	interval time.Duration
	logger   *observability.Logger

	previous map[string]int64
}

// NewVectorStoreMonitor creates a VectorStoreMonitor. interval defaults
// to 5s.
func NewVectorStoreMonitor(store vectorstore.VectorStore, b *bus.Bus, interval time.Duration, logger *observability.Logger) *VectorStoreMonitor {
	if interval <= 0 {
		interval = defaultVectorStorePollInterval
	}
	return &VectorStoreMonitor{store: store, bus: b, interval: interval, logger: logger}
}

// Run polls the vector store once per interval until ctx is cancelled.
func (m *VectorStoreMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *VectorStoreMonitor) poll(ctx context.Context) {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		m.emitError(err)
		return
	}

	snapshot := make(map[string]int64, len(names))
	stats := make([]events.CollectionStats, 0, len(names))
	for _, name := range names {
		count, err := m.store.Count(ctx, name)
		if err != nil {
			m.emitError(err)
			return
		}
		snapshot[name] = count
		stats = append(stats, events.CollectionStats{Collection: name, PointCount: count})
	}

	if snapshotsEqual(m.previous, snapshot) {
		return
	}
	m.previous = snapshot

	m.bus.Publish(events.Envelope{
		Type: events.TypeQdrantStats,
		Data: events.QdrantStats{Collections: stats},
	})
}

func snapshotsEqual(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for name, count := range a {
		if b[name] != count {
			return false
		}
	}
	return true
}

func (m *VectorStoreMonitor) emitError(err error) {
	if m.logger != nil {
		m.logger.Error("vector store monitor poll failed", "error", err)
	}
	m.bus.Publish(events.Envelope{
		Type: events.TypeError,
		Data: events.Error{Source: "vectorstore_monitor", Message: err.Error()},
	})
}

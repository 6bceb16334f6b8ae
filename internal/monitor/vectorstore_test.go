package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indexforge/indexforge/internal/embedding"
	"github.com/indexforge/indexforge/internal/vectorstore"
	"github.com/indexforge/indexforge/pkg/events"
)

func TestVectorStoreMonitor_PublishesOnFirstNonEmptySnapshot(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), vectorstore.CollectionSpec{Name: "proj:ds", Dimension: 4}))
	require.NoError(t, store.Upsert(context.Background(), "proj:ds", []vectorstore.Document{
		{ID: "c1", Vector: embedding.Vector{1, 0, 0, 0}, Payload: vectorstore.Payload{}},
	}))

	b := newTestBus()
	sub := b.Subscribe("", events.TypeQdrantStats)
	defer b.Unsubscribe(sub)

	m := NewVectorStoreMonitor(store, b, time.Hour, nil)
	m.poll(context.Background())

	select {
	case env := <-sub.Events():
		stats, ok := env.Data.(events.QdrantStats)
		require.True(t, ok)
		require.Len(t, stats.Collections, 1)
		assert.Equal(t, "proj:ds", stats.Collections[0].Collection)
		assert.Equal(t, int64(1), stats.Collections[0].PointCount)
	case <-time.After(time.Second):
		t.Fatal("expected a qdrant:stats event")
	}
}

func TestVectorStoreMonitor_SkipsPublishWhenSnapshotUnchanged(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), vectorstore.CollectionSpec{Name: "proj:ds", Dimension: 4}))
	require.NoError(t, store.Upsert(context.Background(), "proj:ds", []vectorstore.Document{
		{ID: "c1", Vector: embedding.Vector{1, 0, 0, 0}, Payload: vectorstore.Payload{}},
	}))

	b := newTestBus()
	sub := b.Subscribe("", events.TypeQdrantStats)
	defer b.Unsubscribe(sub)

	m := NewVectorStoreMonitor(store, b, time.Hour, nil)
	m.poll(context.Background())

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("expected the first poll to publish")
	}

	m.poll(context.Background())

	select {
	case <-sub.Events():
		t.Fatal("expected no event for an unchanged snapshot")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVectorStoreMonitor_PublishesAgainWhenCountChanges(t *testing.T) {
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.CreateCollection(context.Background(), vectorstore.CollectionSpec{Name: "proj:ds", Dimension: 4}))
	require.NoError(t, store.Upsert(context.Background(), "proj:ds", []vectorstore.Document{
		{ID: "c1", Vector: embedding.Vector{1, 0, 0, 0}, Payload: vectorstore.Payload{}},
	}))

	b := newTestBus()
	sub := b.Subscribe("", events.TypeQdrantStats)
	defer b.Unsubscribe(sub)

	m := NewVectorStoreMonitor(store, b, time.Hour, nil)
	m.poll(context.Background())
	<-sub.Events()

	require.NoError(t, store.Upsert(context.Background(), "proj:ds", []vectorstore.Document{
		{ID: "c2", Vector: embedding.Vector{0, 1, 0, 0}, Payload: vectorstore.Payload{}},
	}))
	m.poll(context.Background())

	select {
	case env := <-sub.Events():
		stats := env.Data.(events.QdrantStats)
		assert.Equal(t, int64(2), stats.Collections[0].PointCount)
	case <-time.After(time.Second):
		t.Fatal("expected an event after the point count changed")
	}
}

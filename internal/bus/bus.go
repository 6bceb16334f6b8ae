// Package bus fans typed events out to per-connection subscribers,
// grounded on the teacher's process.Manager mutex-guarded registry and
// snapshot-before-iterate pattern, generalized from a process registry
// into a pub-sub dispatcher.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/pkg/events"
)

const subscriberBuffer = 64

// Topic names a subscribable event stream, matching an events.Type.
type Topic = events.Type

// Subscription is a single subscriber's event stream plus its project
// and topic filter.
type Subscription struct {
	ch      chan events.Envelope
	project string
	topics  map[events.Type]bool
}

// Events returns the subscription's event stream. The channel is
// closed when Unsubscribe is called.
func (s *Subscription) Events() <-chan events.Envelope { return s.ch }

func (s *Subscription) wants(env events.Envelope) bool {
	if s.project != "" && env.Project != "" && s.project != env.Project {
		return false
	}
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[env.Type]
}

// Bus is a mutex-guarded subscriber registry that fans every Publish
// call out to subscribers whose project/topic filter matches, coalesces
// high-frequency events per (type, project, sessionId) key, and never
// blocks a publisher on a slow subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}

	debounce   time.Duration
	debounceMu sync.Mutex
	pending    map[string]*time.Timer
	pendingEnv map[string]events.Envelope

	metrics *observability.MetricsCollector
}

// New creates a Bus. debounce coalesces high-frequency events (crawl
// progress, postgres stats) to at most one publish per key within the
// window; pass 0 to disable coalescing. metrics may be nil.
func New(debounce time.Duration, metrics *observability.MetricsCollector) *Bus {
	return &Bus{
		subs:       make(map[*Subscription]struct{}),
		debounce:   debounce,
		pending:    make(map[string]*time.Timer),
		pendingEnv: make(map[string]events.Envelope),
		metrics:    metrics,
	}
}

// Subscribe registers a new subscriber filtered to project (empty
// matches every project) and topics (empty matches every topic).
func (b *Bus) Subscribe(project string, topics ...events.Type) *Subscription {
	set := make(map[events.Type]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	sub := &Subscription{ch: make(chan events.Envelope, subscriberBuffer), project: project, topics: set}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	count := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetBusSubscribers(count)
	}
	return sub
}

// Unsubscribe removes sub from the registry and closes its channel. Safe
// to call more than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SetBusSubscribers(count)
	}
}

// Publish fans env out to every matching subscriber immediately, with
// no coalescing. A subscriber whose buffer is full drops the event
// rather than blocking the publisher.
func (b *Bus) Publish(env events.Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	b.mu.Lock()
	snapshot := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordBusPublish(string(env.Type))
	}

	for _, sub := range snapshot {
		if !sub.wants(env) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			if b.metrics != nil {
				b.metrics.RecordBusDropped(string(env.Type))
			}
		}
	}
}

// PublishCoalesced debounces env under key (typically
// "type:project:sessionId") so a burst of updates to the same key within
// the Bus's debounce window publishes only the most recent value once
// the window elapses. A zero debounce publishes immediately.
func (b *Bus) PublishCoalesced(key string, env events.Envelope) {
	if b.debounce <= 0 {
		b.Publish(env)
		return
	}

	b.debounceMu.Lock()
	defer b.debounceMu.Unlock()

	b.pendingEnv[key] = env
	if timer, ok := b.pending[key]; ok {
		timer.Reset(b.debounce)
		return
	}

	b.pending[key] = time.AfterFunc(b.debounce, func() {
		b.debounceMu.Lock()
		latest, ok := b.pendingEnv[key]
		delete(b.pendingEnv, key)
		delete(b.pending, key)
		b.debounceMu.Unlock()
		if ok {
			b.Publish(latest)
		}
	})
}

// Close unsubscribes every current subscriber, closing their channels,
// and stops any pending coalesce timers.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.ch)
	}

	b.debounceMu.Lock()
	for _, timer := range b.pending {
		timer.Stop()
	}
	b.pending = make(map[string]*time.Timer)
	b.pendingEnv = make(map[string]events.Envelope)
	b.debounceMu.Unlock()
}

// Run is a convenience no-op kept for symmetry with the other
// context-scoped tasks (watchers, monitors, the queue dispatcher); Bus
// has no background loop of its own beyond its debounce timers, so Run
// simply blocks until ctx is cancelled and then closes the bus.
func (b *Bus) Run(ctx context.Context) {
	<-ctx.Done()
	b.Close()
}

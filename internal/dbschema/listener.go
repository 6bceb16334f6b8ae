package dbschema

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/indexforge/indexforge/internal/observability"
)

// Notification is one pg_notify payload delivered on a channel this
// Listener is subscribed to.
type Notification struct {
	Channel string
	Payload string
}

// Listener multiplexes LISTEN/NOTIFY across any number of logical
// Postgres NOTIFY channels over a single dedicated connection, so
// components that would otherwise each dial their own LISTEN
// connection (MetadataMonitor, the job queue's notifier) can share
// one instead. The connection is never borrowed from a pgxpool.Pool,
// since a connection blocked in LISTEN can never be returned to a
// pool.
type Listener struct {
	connString string

	mu      sync.Mutex
	conn    *pgx.Conn
	subs    map[string][]chan Notification
	started bool
	cancel  context.CancelFunc
}

// NewListener creates a Listener that will dial connString on first
// Subscribe call.
func NewListener(connString string) *Listener {
	return &Listener{connString: connString, subs: make(map[string][]chan Notification)}
}

// Subscribe registers interest in channel and returns a buffered
// stream of its notifications plus an unsubscribe function. The first
// Subscribe call for a process opens the shared connection and starts
// the dispatch loop; subsequent calls reuse it and only issue LISTEN
// for channels not already being listened to.
func (l *Listener) Subscribe(ctx context.Context, channel string) (<-chan Notification, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			return nil, nil, observability.Transient(fmt.Errorf("dbschema: listener connect: %w", err))
		}
		l.conn = conn
	}

	if _, ok := l.subs[channel]; !ok {
		if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return nil, nil, observability.Transient(fmt.Errorf("dbschema: listen %s: %w", channel, err))
		}
	}

	out := make(chan Notification, 16)
	l.subs[channel] = append(l.subs[channel], out)

	if !l.started {
		l.started = true
		dispatchCtx, cancel := context.WithCancel(context.Background())
		l.cancel = cancel
		go l.dispatch(dispatchCtx)
	}

	unsubscribe := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		chans := l.subs[channel]
		for i, c := range chans {
			if c == out {
				l.subs[channel] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
	}
	return out, unsubscribe, nil
}

// dispatch runs for the lifetime of the connection, fanning each
// incoming notification out to every subscriber registered for its
// channel. A subscriber whose buffer is full misses the notification
// rather than stalling delivery to every other subscriber.
func (l *Listener) dispatch(ctx context.Context) {
	for {
		raw, err := l.conn.WaitForNotification(ctx)
		if err != nil {
			return
		}

		l.mu.Lock()
		chans := append([]chan Notification(nil), l.subs[raw.Channel]...)
		l.mu.Unlock()

		n := Notification{Channel: raw.Channel, Payload: raw.Payload}
		for _, c := range chans {
			select {
			case c <- n:
			default:
			}
		}
	}
}

// Close closes the shared connection, ending delivery to every
// subscriber.
func (l *Listener) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	if l.conn == nil {
		return nil
	}
	return l.conn.Close(ctx)
}

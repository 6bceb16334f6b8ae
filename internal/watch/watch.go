// Package watch keeps one filesystem watcher per (project, dataset)
// pair, debouncing the burst of events a save or checkout
// produces into a single incremental sync trigger. Grounded directly on
// the teacher's IndexerWatcher debounce idiom, generalized from a
// single watcher into a registry of many.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/indexforge/indexforge/internal/bus"
	"github.com/indexforge/indexforge/internal/ignore"
	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/pkg/events"
)

// State is a watcher's lifecycle stage.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
)

const defaultDebounce = 500 * time.Millisecond

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Config describes one watcher: the dataset root to watch and how long
// to wait after the last event in a burst before triggering a sync.
type Config struct {
	ProjectID string
	DatasetID string
	Root      string
	Debounce  time.Duration

	// Publisher, when set, receives watch:sync, watch:error, and (if
	// EmitRawEvents) watch:event envelopes tagged with ProjectID.
	Publisher *bus.Bus

	// EmitRawEvents additionally publishes one watch:event per admitted
	// filesystem event, ahead of debouncing. Off by default since it is
	// far higher volume than the coalesced watch:sync/watch:error pair.
	EmitRawEvents bool
}

// SyncStats summarizes one debounced sync pass, reported by SyncFunc so
// Watcher can publish it on the subscription bus.
type SyncStats struct {
	FilesChanged  int
	FilesDeleted  int
	FilesRenamed  int
	ChunksIndexed int
}

// SyncFunc is invoked once per debounced burst of filesystem events and
// reports what it did so the watcher can publish a watch:sync event.
type SyncFunc func(ctx context.Context) (SyncStats, error)

// Watcher watches a single dataset root and debounces filesystem events
// into calls to its configured SyncFunc.
type Watcher struct {
	cfg     Config
	matcher *ignore.Matcher
	onSync  SyncFunc
	fsw     *fsnotify.Watcher

	mu        sync.RWMutex
	state     State
	lastError string

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher for cfg, adding every non-ignored directory
// under cfg.Root to an underlying fsnotify.Watcher.
func New(cfg Config, matcher *ignore.Matcher, onSync SyncFunc) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:     cfg,
		matcher: matcher,
		onSync:  onSync,
		fsw:     fsw,
		state:   StateStopped,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := w.addDirectoriesRecursively(cfg.Root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Start begins the debounced event loop in a background goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.setState(StateStarting, "")
	go w.run(ctx)
}

// Stop shuts the watcher down and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		w.fsw.Close()
		w.setState(StateStopped, "")
	})
}

// State reports the watcher's current lifecycle stage.
func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) setState(s State, lastError string) {
	w.mu.Lock()
	w.state = s
	w.lastError = lastError
	w.mu.Unlock()
	_ = writeSidecar(w.cfg, s)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	w.setState(StateRunning, "")

	var debounceTimer *time.Timer
	triggerCh := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.shouldProcess(event) {
				continue
			}

			if w.cfg.EmitRawEvents && w.cfg.Publisher != nil {
				w.cfg.Publisher.Publish(events.Envelope{
					Type:    events.TypeWatchEvent,
					Project: w.cfg.ProjectID,
					Data:    events.WatchEvent{Root: w.cfg.Root, Path: event.Name, Op: event.Op.String()},
				})
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if w.shouldWatchDirectory(event.Name) {
						_ = w.addDirectoriesRecursively(event.Name)
					}
				}
			}

			if debounceTimer != nil {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
			}
			debounceTimer = time.AfterFunc(w.cfg.Debounce, func() {
				select {
				case triggerCh <- struct{}{}:
				default:
				}
			})

		case <-triggerCh:
			started := time.Now()
			stats, err := w.onSync(ctx)
			if err != nil {
				w.setState(StateDegraded, err.Error())
				w.publishWatchError(err)
			} else {
				w.setState(StateRunning, "")
				w.publishWatchSync(stats, time.Since(started))
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.setState(StateDegraded, err.Error())
			w.publishWatchError(err)
		}
	}
}

func (w *Watcher) publishWatchSync(stats SyncStats, elapsed time.Duration) {
	if w.cfg.Publisher == nil {
		return
	}
	w.cfg.Publisher.Publish(events.Envelope{
		Type:    events.TypeWatchSync,
		Project: w.cfg.ProjectID,
		Data: events.WatchSync{
			Root:          w.cfg.Root,
			FilesChanged:  stats.FilesChanged,
			FilesDeleted:  stats.FilesDeleted,
			FilesRenamed:  stats.FilesRenamed,
			ChunksIndexed: stats.ChunksIndexed,
			DurationMs:    elapsed.Milliseconds(),
		},
	})
}

func (w *Watcher) publishWatchError(err error) {
	if w.cfg.Publisher == nil {
		return
	}
	w.cfg.Publisher.Publish(events.Envelope{
		Type:    events.TypeWatchError,
		Project: w.cfg.ProjectID,
		Data:    events.WatchErrorData{Root: w.cfg.Root, Message: err.Error()},
	})
}

func (w *Watcher) shouldProcess(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	rel, err := filepath.Rel(w.cfg.Root, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return w.matcher.Admit(rel)
}

func (w *Watcher) shouldWatchDirectory(path string) bool {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return !w.matcher.Match(rel, true)
}

func (w *Watcher) addDirectoriesRecursively(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && !w.shouldWatchDirectory(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return nil
		}
		return nil
	})
}

// sidecarState is the on-disk mirror of a watcher's config, written
// alongside the dataset root so an operator can inspect watch state
// without a database connection.
type sidecarState struct {
	ProjectID string `json:"projectId"`
	DatasetID string `json:"datasetId"`
	Root      string `json:"root"`
	State     State  `json:"state"`
	UpdatedAt string `json:"updatedAt"`
}

func writeSidecar(cfg Config, state State) error {
	data, err := json.MarshalIndent(sidecarState{
		ProjectID: cfg.ProjectID,
		DatasetID: cfg.DatasetID,
		Root:      cfg.Root,
		State:     state,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("watch: marshal sidecar: %w", err)
	}

	path := filepath.Join(cfg.Root, ".indexforge-watch.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return observability.Transient(fmt.Errorf("watch: write sidecar %s: %w", path, err))
	}
	return nil
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// WatchState is the lifecycle state of a ChangeWatcher.
type WatchState int32

// Watcher states. Transitions only go forward: Idle -> Watching -> Stopped.
const (
	WatchIdle WatchState = iota
	WatchWatching
	WatchStopped
)

func (s WatchState) String() string {
	switch s {
	case WatchIdle:
		return "idle"
	case WatchWatching:
		return "watching"
	case WatchStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Lifecycle errors.
var (
	ErrWatcherStarted = errors.New("sync: watcher already started")
	ErrWatcherStopped = errors.New("sync: watcher stopped, construct a new one")
)

// Watch-mode timing.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2

	// DefaultRenameWindow is how long a rename origin waits for its target.
	DefaultRenameWindow = 100 * time.Millisecond
)

// BackendFactory builds the Backend a watcher listens to.
type BackendFactory func(logger *slog.Logger) (Backend, error)

// WatcherOptions configures a ChangeWatcher.
type WatcherOptions struct {
	// Backend names the implementation: "fsnotify" (default) or "notify".
	Backend string

	// RenameWindow bounds how long a rename origin is held waiting for the
	// matching create. Zero means DefaultRenameWindow.
	RenameWindow time.Duration

	// NewBackend overrides backend construction.
	NewBackend BackendFactory

	Logger *slog.Logger
}

// ChangeWatcher keeps a mirror current by reacting to source change events.
// Events are handled one at a time, in delivery order, on a single dispatch
// goroutine. Each event gets exactly one sync attempt; failures are logged
// and dropped.
type ChangeWatcher struct {
	tree       *TreeSyncer
	newBackend BackendFactory
	window     time.Duration
	logger     *slog.Logger
	failures   *failureTracker
	sleepFunc  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   atomic.Int32
	backend Backend
	cancel  context.CancelFunc
	group   *errgroup.Group
	handled atomic.Int64

	// Dispatcher-owned rename pairing state.
	pending     string
	hasPending  bool
	renameTimer *time.Timer
	renameC     <-chan time.Time
}

// NewChangeWatcher returns an idle watcher for tree.
func NewChangeWatcher(tree *TreeSyncer, opts WatcherOptions) *ChangeWatcher {
	logger := opts.Logger
	if logger == nil {
		logger = tree.logger
	}

	factory := opts.NewBackend
	if factory == nil {
		name := opts.Backend
		factory = func(l *slog.Logger) (Backend, error) { return NewBackend(name, l) }
	}

	window := opts.RenameWindow
	if window <= 0 {
		window = DefaultRenameWindow
	}

	return &ChangeWatcher{
		tree:       tree,
		newBackend: factory,
		window:     window,
		logger:     logger,
		failures:   newFailureTracker(logger),
		sleepFunc:  timeSleep,
	}
}

// State returns the current lifecycle state.
func (w *ChangeWatcher) State() WatchState {
	return WatchState(w.state.Load())
}

// Start registers a recursive watch on the source root and starts the
// dispatch goroutine. A watcher can be started once.
func (w *ChangeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case WatchWatching:
		return ErrWatcherStarted
	case WatchStopped:
		return ErrWatcherStopped
	}

	backend, err := w.newBackend(w.logger)
	if err != nil {
		w.state.Store(int32(WatchStopped))
		return err
	}

	if err := backend.AddTree(w.tree.SourceRoot()); err != nil {
		backend.Close()
		w.state.Store(int32(WatchStopped))

		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	w.tree.beginLive(ctx)

	w.backend = backend
	w.cancel = cancel
	w.group = g
	w.state.Store(int32(WatchWatching))

	g.Go(func() error { return w.dispatch(gctx) })

	w.logger.Info("watching for changes",
		slog.String("src", w.tree.SourceRoot()),
		slog.Duration("rename_window", w.window),
	)

	return nil
}

// Stop ends watching: it cancels the dispatcher, waits for the event in
// flight, and releases the backend. Stopping twice is a no-op.
func (w *ChangeWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.State() {
	case WatchIdle:
		w.state.Store(int32(WatchStopped))
		return nil
	case WatchStopped:
		return nil
	}

	w.state.Store(int32(WatchStopped))
	w.cancel()

	waitErr := w.group.Wait()
	closeErr := w.backend.Close()

	w.tree.endLive(context.Background(), w.failures.total())

	w.logger.Info("watcher stopped",
		slog.Int64("events", w.handled.Load()),
		slog.Int("failing_paths", w.failures.total()),
	)

	return errors.Join(waitErr, closeErr)
}

// dispatch is the single consumer of backend events.
func (w *ChangeWatcher) dispatch(ctx context.Context) error {
	events := w.backend.Events()
	errs := w.backend.Errors()
	errBackoff := watchErrInitBackoff

	// A rename origin still waiting at shutdown is a delete.
	defer w.flushPending(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}

			w.handle(ctx, ev)
			w.handled.Add(1)

			// Successful event resets error backoff.
			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			// Sustained errors (e.g. kernel queue overflow) must not spin.
			if sleepErr := w.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-w.renameC:
			w.flushPending(ctx)
		}
	}
}

// handle routes one event. Paths outside the source root, the root itself,
// and excluded paths are ignored, except that an excluded rename target
// still completes its pending move so the old destination is retired.
func (w *ChangeWatcher) handle(ctx context.Context, ev Event) {
	rel, ok := relativeTo(w.tree.SourceRoot(), ev.Path)
	if !ok {
		w.logger.Debug("watch: ignoring event outside source root", slog.String("path", ev.Path))
		return
	}

	filter := w.tree.filter
	if filter.IsMarker(rel) {
		filter.Invalidate(path.Dir(rel))
	}

	kind, _ := classify(ev.Path)
	included := filter.ShouldSync(rel, kind == KindDirectory).Included

	w.logger.Debug("watch: event",
		slog.String("op", ev.Op.String()),
		slog.String("path", rel),
		slog.String("kind", kind.String()),
		slog.Bool("included", included),
	)

	switch ev.Op {
	case OpRename:
		if kind == KindMissing {
			w.flushPending(ctx)
			w.hold(rel)

			return
		}

		// Some backends report the new name of a rename as a rename too.
		w.arrived(ctx, rel, kind, included)

	case OpCreate:
		w.arrived(ctx, rel, kind, included)

	case OpWrite:
		w.flushPending(ctx)

		// Directory writes are entry churn, covered by the entries' events.
		if kind == KindDirectory || !included {
			return
		}

		w.syncOne(ctx, rel)

	case OpRemove:
		w.flushPending(ctx)

		if included {
			w.syncOne(ctx, rel)
		}
	}
}

// arrived handles a path that appeared: the target of a pending rename, or
// a plain create.
func (w *ChangeWatcher) arrived(ctx context.Context, rel string, kind Kind, included bool) {
	if from, ok := w.takePending(); ok {
		w.move(ctx, from, rel, kind)
		return
	}

	if !included {
		return
	}

	if kind != KindDirectory {
		w.syncOne(ctx, rel)
		return
	}

	// Entries created before the new directory's watch was registered
	// produce no events of their own, so reconcile the whole subtree.
	if err := w.backend.AddTree(w.tree.m.srcPath(rel)); err != nil {
		w.logger.Warn("failed to add watch on new directory",
			slog.String("path", rel), slog.String("error", err.Error()))
	}

	w.recordSubtree(rel, w.tree.SyncSubtree(ctx, rel, false))
}

func (w *ChangeWatcher) move(ctx context.Context, from, to string, kind Kind) {
	if kind == KindDirectory {
		if err := w.backend.AddTree(w.tree.m.srcPath(to)); err != nil {
			w.logger.Warn("failed to add watch on moved directory",
				slog.String("path", to), slog.String("error", err.Error()))
		}
	}

	if err := w.tree.Move(ctx, from, to); err != nil {
		w.failures.recordFailure(to, err)
		return
	}

	w.failures.recordSuccess(from)
	w.failures.recordSuccess(to)
}

func (w *ChangeWatcher) syncOne(ctx context.Context, rel string) {
	if err := w.tree.SyncPath(ctx, rel); err != nil {
		w.failures.recordFailure(rel, err)
		return
	}

	w.failures.recordSuccess(rel)
}

func (w *ChangeWatcher) recordSubtree(root string, failed FailureSet) {
	if len(failed) == 0 {
		w.failures.recordSuccess(root)
		return
	}

	for _, rel := range failed {
		w.failures.recordFailure(rel, fmt.Errorf("sync: reconciling new directory %s failed", root))
	}
}

// hold parks a rename origin until its target shows up or the window ends.
func (w *ChangeWatcher) hold(rel string) {
	w.pending = rel
	w.hasPending = true
	w.renameTimer = time.NewTimer(w.window)
	w.renameC = w.renameTimer.C
}

func (w *ChangeWatcher) takePending() (string, bool) {
	if !w.hasPending {
		return "", false
	}

	w.renameTimer.Stop()

	rel := w.pending
	w.pending, w.hasPending = "", false
	w.renameTimer, w.renameC = nil, nil

	return rel, true
}

// flushPending treats an unmatched rename origin as a delete.
func (w *ChangeWatcher) flushPending(ctx context.Context) {
	rel, ok := w.takePending()
	if !ok {
		return
	}

	w.logger.Debug("watch: rename origin unmatched, retiring", slog.String("path", rel))
	w.syncOne(ctx, rel)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package sync

import (
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"

	"github.com/rjeczalik/notify"
)

// notifyBackend uses rjeczalik/notify, which watches whole trees natively
// (FSEvents, ReadDirectoryChangesW, or its own inotify walker). It reports
// no errors after registration, so Errors never delivers.
type notifyBackend struct {
	raw    chan notify.EventInfo
	events chan Event
	errs   chan error
	done   chan struct{}
	wg     gosync.WaitGroup
	once   gosync.Once
	logger *slog.Logger

	mu    gosync.Mutex
	roots []string
}

func newNotifyBackend(logger *slog.Logger) *notifyBackend {
	b := &notifyBackend{
		raw:    make(chan notify.EventInfo, eventBuffer),
		events: make(chan Event, eventBuffer),
		errs:   make(chan error),
		done:   make(chan struct{}),
		logger: logger,
	}

	b.wg.Add(1)

	go b.pump()

	return b
}

func (b *notifyBackend) Events() <-chan Event { return b.events }

func (b *notifyBackend) Errors() <-chan error { return b.errs }

// AddTree registers a recursive watch on dir. Directories already covered
// by a registered tree are ignored.
func (b *notifyBackend) AddTree(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, root := range b.roots {
		if dir == root {
			return nil
		}

		if _, inside := relativeTo(root, dir); inside {
			return nil
		}
	}

	if err := notify.Watch(filepath.Join(dir, "..."), b.raw,
		notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	b.roots = append(b.roots, dir)
	b.logger.Debug("recursive watch registered", slog.String("path", dir))

	return nil
}

// Close unregisters every watch and stops the pump. Safe to call twice.
func (b *notifyBackend) Close() error {
	b.once.Do(func() {
		notify.Stop(b.raw)
		close(b.done)
		b.wg.Wait()
		close(b.events)
		close(b.errs)
	})

	return nil
}

func (b *notifyBackend) pump() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case ei := <-b.raw:
			op, keep := translateNotify(ei.Event())
			if !keep {
				continue
			}

			select {
			case b.events <- Event{Op: op, Path: ei.Path()}:
			case <-b.done:
				return
			}
		}
	}
}

func translateNotify(e notify.Event) (Op, bool) {
	switch {
	case e&notify.Create != 0:
		return OpCreate, true
	case e&notify.Write != 0:
		return OpWrite, true
	case e&notify.Remove != 0:
		return OpRemove, true
	case e&notify.Rename != 0:
		return OpRename, true
	default:
		return 0, false
	}
}

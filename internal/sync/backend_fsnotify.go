package sync

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend adapts fsnotify, which watches single directories, to
// the Backend contract: AddTree walks the tree and adds every directory.
type fsnotifyBackend struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errs    chan error
	done    chan struct{}
	wg      gosync.WaitGroup
	once    gosync.Once
	logger  *slog.Logger
}

func newFsnotifyBackend(logger *slog.Logger) (*fsnotifyBackend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sync: creating fsnotify watcher: %w", err)
	}

	b := &fsnotifyBackend{
		watcher: w,
		events:  make(chan Event, eventBuffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}

	b.wg.Add(1)

	go b.pump()

	return b, nil
}

func (b *fsnotifyBackend) Events() <-chan Event { return b.events }

func (b *fsnotifyBackend) Errors() <-chan error { return b.errs }

// AddTree adds a watch on dir and on every directory below it. Only a
// failure on dir itself is returned; failures below it are logged.
func (b *fsnotifyBackend) AddTree(dir string) error {
	if err := b.watcher.Add(dir); err != nil {
		return fmt.Errorf("sync: watching %s: %w", dir, err)
	}

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			b.logger.Debug("skipping unreadable directory", slog.String("path", p), slog.String("error", err.Error()))
			return skipEntry(d)
		}

		if !d.IsDir() || p == dir {
			return nil
		}

		if addErr := b.watcher.Add(p); addErr != nil {
			b.logger.Warn("failed to add watch",
				slog.String("path", p), slog.String("error", addErr.Error()))
		}

		return nil
	})
}

// Close stops the pump and the underlying watcher. Safe to call twice.
func (b *fsnotifyBackend) Close() error {
	var err error

	b.once.Do(func() {
		close(b.done)
		err = b.watcher.Close()
		b.wg.Wait()
		close(b.events)
		close(b.errs)
	})

	return err
}

// pump translates fsnotify events until Close. A Chmod-only event becomes a
// write so the new permission bits reach the destination.
func (b *fsnotifyBackend) pump() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}

			op, keep := translateFsnotify(ev)
			if !keep {
				continue
			}

			select {
			case b.events <- Event{Op: op, Path: ev.Name}:
			case <-b.done:
				return
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}

			select {
			case b.errs <- err:
			case <-b.done:
				return
			}
		}
	}
}

func translateFsnotify(ev fsnotify.Event) (Op, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return OpCreate, true
	case ev.Has(fsnotify.Write):
		return OpWrite, true
	case ev.Has(fsnotify.Remove):
		return OpRemove, true
	case ev.Has(fsnotify.Rename):
		return OpRename, true
	case ev.Has(fsnotify.Chmod):
		return OpWrite, true
	default:
		return 0, false
	}
}

package sync

import (
	"fmt"
	"log/slog"
)

// Op is the kind of a filesystem change event.
type Op int

// Change operations delivered by a Backend.
const (
	OpCreate Op = iota + 1
	OpWrite
	OpRemove
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Event is one change notification. Path is absolute. A rename shows up as
// OpRename on the old path, followed by OpCreate (or OpRename, depending on
// the backend) on the new path.
type Event struct {
	Op   Op
	Path string
}

// Backend delivers change events for registered directory trees.
// Implementations close both channels after Close.
type Backend interface {
	Events() <-chan Event
	Errors() <-chan error

	// AddTree registers dir and every directory below it.
	AddTree(dir string) error

	Close() error
}

// Backend names accepted by NewBackend.
const (
	BackendFsnotify = "fsnotify"
	BackendNotify   = "notify"
)

// eventBuffer is the channel capacity between a backend's OS watcher and
// the dispatcher.
const eventBuffer = 256

// NewBackend returns the named backend implementation.
func NewBackend(name string, logger *slog.Logger) (Backend, error) {
	switch name {
	case BackendFsnotify, "":
		return newFsnotifyBackend(logger)
	case BackendNotify:
		return newNotifyBackend(logger), nil
	default:
		return nil, fmt.Errorf("sync: unknown watcher backend %q", name)
	}
}

// Package sync implements the one-way mirroring engine for palimpsest: the
// per-path entities that know how to reproduce themselves in the output
// tree, the full reconciliation walk, the optional manifest of previously
// mirrored paths, and the change watcher that keeps a mirror current.
package sync

import (
	"errors"
	"fmt"
)

// Kind classifies a relative path by the live state of its source side.
type Kind int

// Entity kinds. KindOther covers sockets, devices, fifos and paths whose
// source cannot be inspected.
const (
	KindMissing Kind = iota
	KindDirectory
	KindFile
	KindSymlink
	KindOther
)

// String returns the name stored in the manifest and printed by dry runs.
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindDirectory:
		return "dir"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "missing":
		return KindMissing, nil
	case "dir":
		return KindDirectory, nil
	case "file":
		return KindFile, nil
	case "symlink":
		return KindSymlink, nil
	case "other":
		return KindOther, nil
	default:
		return KindOther, fmt.Errorf("sync: unknown kind %q", s)
	}
}

// Sentinel errors returned by Entity.Sync.
var (
	// ErrKindChanged means the source changed kind between classification
	// and the operation. The next event or pass reconciles it.
	ErrKindChanged = errors.New("sync: source kind changed")

	// ErrUnsupportedKind is returned for sources that cannot be mirrored.
	ErrUnsupportedKind = errors.New("sync: unsupported source kind")

	// ErrNotDirectory is returned when a tree root is not a directory.
	ErrNotDirectory = errors.New("sync: not a directory")
)

// Entity is one relative path, classified by its source side. Entities are
// cheap and short-lived: build one, use it, discard it.
type Entity interface {
	// RelPath is the slash-separated path relative to both roots.
	RelPath() string

	// Kind is the source kind observed when the entity was built.
	Kind() Kind

	// Fresh reports whether the destination already reflects the source.
	Fresh() bool

	// Sync materializes the source at the destination, or retires the
	// destination when the source is gone.
	Sync() error
}

// FailureSet lists, in visit order, the relative paths a pass could not
// synchronize. Each path appears at most once.
type FailureSet []string

// PlanEntry is one stale path reported by a dry run.
type PlanEntry struct {
	Path string
	Kind Kind

	// Orphan marks a recorded destination path whose source is gone.
	Orphan bool
}

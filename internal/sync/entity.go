package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/palimpsest/internal/transform"
)

// mirror is the state every entity of one tree shares: both absolute roots,
// the content transform, and the freshness tolerance. It is built once by
// NewTreeSyncer and never mutated.
type mirror struct {
	srcRoot   string
	dstRoot   string
	xform     *transform.Transformer
	tolerance time.Duration
	logger    *slog.Logger
}

// entityBase carries the relative path and the owning mirror.
type entityBase struct {
	m   *mirror
	rel string
}

func (e entityBase) RelPath() string { return e.rel }

func (e entityBase) srcPath() string { return e.m.srcPath(e.rel) }

func (e entityBase) dstPath() string { return e.m.dstPath(e.rel) }

func (m *mirror) srcPath(rel string) string {
	return filepath.Join(m.srcRoot, filepath.FromSlash(rel))
}

func (m *mirror) dstPath(rel string) string {
	return filepath.Join(m.dstRoot, filepath.FromSlash(rel))
}

// entity classifies rel by an Lstat of its source and returns the matching
// variant. Nothing is cached: every call inspects the filesystem again.
func (m *mirror) entity(rel string) Entity {
	base := entityBase{m: m, rel: rel}

	kind, err := classify(base.srcPath())
	switch kind {
	case KindDirectory:
		return &dirEntity{entityBase: base}
	case KindFile:
		return &fileEntity{entityBase: base}
	case KindSymlink:
		return &symlinkEntity{entityBase: base}
	case KindMissing:
		return &missingEntity{entityBase: base}
	default:
		return &otherEntity{entityBase: base, cause: err}
	}
}

// classify maps an Lstat result to a Kind. Symlinks are never followed.
// For KindOther the returned error explains why, when there is one.
func classify(path string) (Kind, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return KindMissing, nil
		}

		return KindOther, err
	}

	return kindOf(info.Mode()), nil
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsDir():
		return KindDirectory
	case mode.IsRegular():
		return KindFile
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	default:
		return KindOther
	}
}

// expectKind re-inspects the source right before an operation and fails
// with ErrKindChanged when it no longer has the kind the entity was built for.
func expectKind(path string, want Kind) (fs.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && want != KindMissing {
			return nil, fmt.Errorf("%w: %s vanished", ErrKindChanged, path)
		}

		return nil, fmt.Errorf("sync: inspecting %s: %w", path, err)
	}

	if got := kindOf(info.Mode()); got != want {
		return nil, fmt.Errorf("%w: %s is now %s, expected %s", ErrKindChanged, path, got, want)
	}

	return info, nil
}

// removeEntry deletes whatever sits at path. Real directories are removed
// recursively; symlinks are removed, never followed. A missing path is not
// an error.
func removeEntry(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("sync: inspecting %s: %w", path, err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("sync: removing directory %s: %w", path, err)
		}

		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sync: removing %s: %w", path, err)
	}

	return nil
}

// retire removes the destination of a path whose source is gone. It is the
// shared "source missing" branch of every variant.
func (e entityBase) retire() error {
	dst := e.dstPath()

	if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := removeEntry(dst); err != nil {
		return err
	}

	e.m.logger.Debug("retired destination entry", slog.String("path", e.rel))

	return nil
}

// destAbsent reports whether nothing exists at the destination.
func (e entityBase) destAbsent() bool {
	_, err := os.Lstat(e.dstPath())
	return errors.Is(err, fs.ErrNotExist)
}

// missingEntity is a path whose source does not exist.
type missingEntity struct{ entityBase }

func (e *missingEntity) Kind() Kind { return KindMissing }

// Fresh reports true once nothing is left at the destination.
func (e *missingEntity) Fresh() bool { return e.destAbsent() }

func (e *missingEntity) Sync() error {
	_, err := os.Lstat(e.srcPath())
	if err == nil {
		return fmt.Errorf("%w: %s reappeared", ErrKindChanged, e.srcPath())
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sync: inspecting %s: %w", e.srcPath(), err)
	}

	return e.retire()
}

// otherEntity is a source that cannot be mirrored: a device, socket or fifo,
// or a path that could not be inspected at all.
type otherEntity struct {
	entityBase
	cause error
}

func (e *otherEntity) Kind() Kind { return KindOther }

func (e *otherEntity) Fresh() bool { return false }

func (e *otherEntity) Sync() error {
	if e.cause != nil {
		return fmt.Errorf("sync: inspecting %s: %w", e.srcPath(), e.cause)
	}

	return fmt.Errorf("%w: %s", ErrUnsupportedKind, e.srcPath())
}

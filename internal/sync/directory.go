package sync

import (
	"fmt"
	"log/slog"
	"os"
)

// ownerDirPerm is or-ed into every created destination directory.
const ownerDirPerm = 0o700

// dirEntity is a path whose source is a real directory.
type dirEntity struct{ entityBase }

func (e *dirEntity) Kind() Kind { return KindDirectory }

// Fresh reports whether the destination is a directory. Directory mtimes
// change with every entry and say nothing about content, so they are not
// compared.
func (e *dirEntity) Fresh() bool {
	info, err := os.Lstat(e.dstPath())
	return err == nil && info.IsDir()
}

// Sync creates the destination directory. The parent is expected to exist
// already because walks visit directories before their entries. An entry
// of another kind at the destination is replaced. The owner always gets
// full access so a read-only source directory can still be populated and
// later retired.
func (e *dirEntity) Sync() error {
	info, err := expectKind(e.srcPath(), KindDirectory)
	if err != nil {
		return err
	}

	dst := e.dstPath()

	if existing, err := os.Lstat(dst); err == nil {
		if existing.IsDir() {
			return nil
		}

		if err := removeEntry(dst); err != nil {
			return err
		}
	}

	if err := os.Mkdir(dst, info.Mode().Perm()|ownerDirPerm); err != nil {
		return fmt.Errorf("sync: creating directory %s: %w", dst, err)
	}

	e.m.logger.Debug("created directory", slog.String("path", e.rel))

	return nil
}

package sync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// symlinkEntity is a path whose source is a symbolic link. Links are
// recreated with the same raw target, never dereferenced.
type symlinkEntity struct{ entityBase }

func (e *symlinkEntity) Kind() Kind { return KindSymlink }

// Fresh reports whether the destination is a symlink that either has the
// same raw target as the source or resolves to the same real path. The raw
// comparison covers targets outside both trees.
func (e *symlinkEntity) Fresh() bool {
	srcTarget, err := os.Readlink(e.srcPath())
	if err != nil {
		return false
	}

	dstInfo, err := os.Lstat(e.dstPath())
	if err != nil || dstInfo.Mode()&os.ModeSymlink == 0 {
		return false
	}

	dstTarget, err := os.Readlink(e.dstPath())
	if err != nil {
		return false
	}

	if srcTarget == dstTarget {
		return true
	}

	srcReal, srcErr := filepath.EvalSymlinks(e.srcPath())
	dstReal, dstErr := filepath.EvalSymlinks(e.dstPath())

	return srcErr == nil && dstErr == nil && srcReal == dstReal
}

// Sync replaces the destination entry with a symlink to the source's raw
// target, then copies the link's own timestamps where the platform allows.
func (e *symlinkEntity) Sync() error {
	info, err := expectKind(e.srcPath(), KindSymlink)
	if err != nil {
		return err
	}

	target, err := os.Readlink(e.srcPath())
	if err != nil {
		return fmt.Errorf("sync: reading link %s: %w", e.srcPath(), err)
	}

	dst := e.dstPath()
	if err := removeEntry(dst); err != nil {
		return err
	}

	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("sync: creating symlink %s: %w", dst, err)
	}

	if err := setLinkTimes(dst, info.ModTime()); err != nil {
		e.m.logger.Debug("could not copy symlink times",
			slog.String("path", e.rel), slog.String("error", err.Error()))
	}

	e.m.logger.Debug("recreated symlink", slog.String("path", e.rel), slog.String("target", target))

	return nil
}

package sync

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// fileEntity is a path whose source is a regular file.
type fileEntity struct{ entityBase }

func (e *fileEntity) Kind() Kind { return KindFile }

// Fresh reports whether the destination is a regular file written after the
// current source content existed: dest.mtime > src.mtime - tolerance. With
// a zero tolerance this is the strict comparison.
func (e *fileEntity) Fresh() bool {
	src, err := os.Lstat(e.srcPath())
	if err != nil || !src.Mode().IsRegular() {
		return false
	}

	dst, err := os.Lstat(e.dstPath())
	if err != nil || !dst.Mode().IsRegular() {
		return false
	}

	return dst.ModTime().After(src.ModTime().Add(-e.m.tolerance))
}

// Sync replaces whatever is at the destination with a copy of the source.
// Text-eligible content goes through the transform and gets a fresh mtime;
// everything else is copied byte for byte with the source mtime. Permission
// bits are kept in both cases. A failed copy leaves its partial output.
func (e *fileEntity) Sync() error {
	info, err := expectKind(e.srcPath(), KindFile)
	if err != nil {
		return err
	}

	dst := e.dstPath()
	if err := removeEntry(dst); err != nil {
		return err
	}

	if e.m.xform != nil && e.m.xform.IsTextEligible(e.srcPath()) {
		return e.rewrite(info)
	}

	return e.copyVerbatim(info)
}

func (e *fileEntity) rewrite(info os.FileInfo) error {
	in, out, err := e.open(info)
	if err != nil {
		return err
	}
	defer in.Close()

	stats, err := e.m.xform.Rewrite(in, out)
	if err != nil {
		out.Close()
		return fmt.Errorf("sync: rewriting %s: %w", e.rel, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("sync: closing %s: %w", e.dstPath(), err)
	}

	if err := os.Chmod(e.dstPath(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("sync: setting mode on %s: %w", e.dstPath(), err)
	}

	e.m.logger.Debug("rewrote file",
		slog.String("path", e.rel),
		slog.Int("lines", stats.Lines),
		slog.Int("replacements", stats.Replacements),
	)

	return nil
}

func (e *fileEntity) copyVerbatim(info os.FileInfo) error {
	in, out, err := e.open(info)
	if err != nil {
		return err
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return fmt.Errorf("sync: copying %s: %w", e.rel, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("sync: closing %s: %w", e.dstPath(), err)
	}

	if err := os.Chmod(e.dstPath(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("sync: setting mode on %s: %w", e.dstPath(), err)
	}

	if err := os.Chtimes(e.dstPath(), info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("sync: setting times on %s: %w", e.dstPath(), err)
	}

	e.m.logger.Debug("copied file", slog.String("path", e.rel), slog.Int64("bytes", n))

	return nil
}

// open opens the source for reading and creates the destination. The
// destination was removed just before, so O_EXCL catches a racing writer.
func (e *fileEntity) open(info os.FileInfo) (*os.File, *os.File, error) {
	in, err := os.Open(e.srcPath())
	if err != nil {
		return nil, nil, fmt.Errorf("sync: opening %s: %w", e.srcPath(), err)
	}

	out, err := os.OpenFile(e.dstPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm()|0o200)
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("sync: creating %s: %w", e.dstPath(), err)
	}

	return in, out, nil
}

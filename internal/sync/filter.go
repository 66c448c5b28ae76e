package sync

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/tonimelisma/palimpsest/internal/config"
)

// FilterResult is the outcome of a filter check. Reason is set for
// excluded paths and only used for logging.
type FilterResult struct {
	Included bool
	Reason   string
}

// FilterEngine decides which source paths are mirrored. It applies two
// layers: config exclude globs, then gitignore-style marker files found in
// any directory of the source tree. A path is excluded when it or any of
// its ancestors is excluded, so a pruned directory hides its whole subtree.
type FilterEngine struct {
	exclude []string
	marker  string
	srcRoot string
	logger  *slog.Logger

	// markerCache stores parsed marker files per slash-separated directory.
	// A nil entry means the directory was checked and has no marker file.
	markerCache map[string]*ignore.GitIgnore
	mu          gosync.RWMutex
}

// NewFilterEngine validates the exclude patterns and returns a filter for
// the tree rooted at srcRoot.
func NewFilterEngine(cfg *config.FilterConfig, srcRoot string, logger *slog.Logger) (*FilterEngine, error) {
	for _, p := range cfg.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("sync: invalid exclude pattern %q", p)
		}
	}

	logger.Debug("initializing filter engine",
		slog.String("src_root", srcRoot),
		slog.Any("exclude", cfg.Exclude),
		slog.String("ignore_marker", cfg.IgnoreMarker),
	)

	return &FilterEngine{
		exclude:     append([]string(nil), cfg.Exclude...),
		marker:      cfg.IgnoreMarker,
		srcRoot:     srcRoot,
		logger:      logger,
		markerCache: make(map[string]*ignore.GitIgnore),
	}, nil
}

// ShouldSync evaluates a slash-separated relative path. isDir only matters
// for marker patterns ending in "/".
func (f *FilterEngine) ShouldSync(rel string, isDir bool) FilterResult {
	if f == nil {
		return FilterResult{Included: true}
	}

	rel = path.Clean(filepath.ToSlash(rel))

	if result := f.checkExclude(rel); !result.Included {
		return result
	}

	return f.checkMarkers(rel, isDir)
}

// Invalidate drops the cached marker file of dir so it is read again on the
// next check. Watch mode calls it when a marker file changes.
func (f *FilterEngine) Invalidate(dir string) {
	if f == nil {
		return
	}

	f.mu.Lock()
	delete(f.markerCache, path.Clean(filepath.ToSlash(dir)))
	f.mu.Unlock()
}

// IsMarker reports whether rel names an ignore marker file.
func (f *FilterEngine) IsMarker(rel string) bool {
	return f != nil && f.marker != "" && path.Base(filepath.ToSlash(rel)) == f.marker
}

// checkExclude evaluates Layer 1: exclude globs against the path and each
// of its ancestors.
func (f *FilterEngine) checkExclude(rel string) FilterResult {
	if len(f.exclude) == 0 {
		return FilterResult{Included: true}
	}

	for p := rel; p != "." && p != "/"; p = path.Dir(p) {
		for _, pattern := range f.exclude {
			if doublestar.MatchUnvalidated(pattern, p) {
				f.logger.Debug("path excluded by pattern",
					slog.String("path", rel), slog.String("pattern", pattern))

				return FilterResult{Included: false, Reason: "matches exclude pattern " + pattern}
			}
		}
	}

	return FilterResult{Included: true}
}

// checkMarkers evaluates Layer 2: marker files. The marker in directory D
// governs every path below D, matched relative to D. Ancestor components
// are checked as directories.
func (f *FilterEngine) checkMarkers(rel string, isDir bool) FilterResult {
	if f.marker == "" {
		return FilterResult{Included: true}
	}

	parts := strings.Split(rel, "/")

	for i := range parts {
		dir := "."
		if i > 0 {
			dir = strings.Join(parts[:i], "/")
		}

		gi := f.loadMarker(dir)
		if gi == nil {
			continue
		}

		// Everything from parts[i] down, relative to dir.
		for j := i; j < len(parts); j++ {
			sub := strings.Join(parts[i:j+1], "/")
			subIsDir := j < len(parts)-1 || isDir

			if matchesIgnore(gi, sub, subIsDir) {
				f.logger.Debug("path excluded by marker file",
					slog.String("path", rel), slog.String("dir", dir))

				return FilterResult{Included: false, Reason: "excluded by " + path.Join(dir, f.marker)}
			}
		}
	}

	return FilterResult{Included: true}
}

// matchesIgnore follows the go-gitignore convention of a trailing slash for
// directories, and also tries the bare name so "name" patterns hit dirs.
func matchesIgnore(gi *ignore.GitIgnore, sub string, isDir bool) bool {
	if gi.MatchesPath(sub) {
		return true
	}

	return isDir && gi.MatchesPath(sub+"/")
}

// loadMarker loads and caches the marker file for the given directory.
// Returns nil if no marker file exists in that directory.
func (f *FilterEngine) loadMarker(dir string) *ignore.GitIgnore {
	f.mu.RLock()
	gi, cached := f.markerCache[dir]
	f.mu.RUnlock()

	if cached {
		return gi
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gi, cached = f.markerCache[dir]; cached {
		return gi
	}

	markerPath := filepath.Join(f.srcRoot, filepath.FromSlash(dir), f.marker)

	parsed, err := ignore.CompileIgnoreFile(markerPath)
	if err != nil {
		f.markerCache[dir] = nil
		return nil
	}

	f.logger.Debug("loaded marker file", slog.String("dir", dir), slog.String("path", markerPath))
	f.markerCache[dir] = parsed

	return parsed
}

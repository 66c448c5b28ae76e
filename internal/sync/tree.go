package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/palimpsest/internal/transform"
)

// TreeOptions configures a TreeSyncer. Only the two roots are required.
type TreeOptions struct {
	SourceRoot string
	DestRoot   string

	// Transformer rewrites text-eligible files. Nil copies everything
	// verbatim.
	Transformer *transform.Transformer

	// Filter prunes excluded paths. Nil mirrors everything.
	Filter *FilterEngine

	// Manifest records mirrored paths across passes. Nil disables orphan
	// retirement.
	Manifest *Manifest

	// MtimeTolerance relaxes the file freshness check to
	// dest.mtime > src.mtime - tolerance.
	MtimeTolerance time.Duration

	Logger *slog.Logger
}

// TreeSyncer mirrors a source tree into a destination tree. A full pass is
// single-threaded; the watcher drives SyncPath, SyncSubtree and Move from
// its one dispatch goroutine.
type TreeSyncer struct {
	m        *mirror
	filter   *FilterEngine
	manifest *Manifest
	logger   *slog.Logger

	// liveRun is the manifest run of an active watch session.
	liveRun *Run
}

// NewTreeSyncer resolves both roots to absolute paths and rejects
// configurations where one tree contains the other.
func NewTreeSyncer(opts TreeOptions) (*TreeSyncer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	src, err := filepath.Abs(opts.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("sync: resolving source root: %w", err)
	}

	dst, err := filepath.Abs(opts.DestRoot)
	if err != nil {
		return nil, fmt.Errorf("sync: resolving destination root: %w", err)
	}

	if _, inside := relativeTo(src, dst); inside || src == dst {
		return nil, fmt.Errorf("sync: destination %s lies inside source %s", dst, src)
	}

	if _, inside := relativeTo(dst, src); inside {
		return nil, fmt.Errorf("sync: source %s lies inside destination %s", src, dst)
	}

	return &TreeSyncer{
		m: &mirror{
			srcRoot:   src,
			dstRoot:   dst,
			xform:     opts.Transformer,
			tolerance: opts.MtimeTolerance,
			logger:    logger,
		},
		filter:   opts.Filter,
		manifest: opts.Manifest,
		logger:   logger,
	}, nil
}

// SourceRoot returns the absolute source root.
func (ts *TreeSyncer) SourceRoot() string { return ts.m.srcRoot }

// DestRoot returns the absolute destination root.
func (ts *TreeSyncer) DestRoot() string { return ts.m.dstRoot }

// Entity classifies rel against the live source tree.
func (ts *TreeSyncer) Entity(rel string) Entity {
	return ts.m.entity(cleanRel(rel))
}

// passStats are the counters of one walk, reported in summary logs.
type passStats struct {
	visited  int
	synced   int
	fresh    int
	excluded int
	retired  int
	bytes    uint64
}

// pass is the mutable state of one walk. It is owned by a single caller.
type pass struct {
	force    bool
	failures FailureSet
	failed   mapset.Set[string]
	visited  mapset.Set[string] // normalized keys
	mirrored map[string]Kind
	retired  []string
	stats    passStats
}

func newPass(force bool) *pass {
	return &pass{
		force:    force,
		failed:   mapset.NewThreadUnsafeSet[string](),
		visited:  mapset.NewThreadUnsafeSet[string](),
		mirrored: make(map[string]Kind),
	}
}

func (p *pass) fail(rel string) {
	if p.failed.Add(rel) {
		p.failures = append(p.failures, rel)
	}
}

// Sync runs a full reconciliation pass: a pre-order walk of the source root
// in which every visited path is synchronized when force is set or its
// entity reports stale. Per-path failures are collected in the returned
// FailureSet and never stop the walk. The error is reserved for setup
// problems, manifest I/O, and cancellation.
func (ts *TreeSyncer) Sync(ctx context.Context, force bool) (FailureSet, error) {
	started := time.Now()

	if err := ts.prepareRoots(true); err != nil {
		return nil, err
	}

	var (
		recorded map[string]ManifestEntry
		run      *Run
	)

	if ts.manifest != nil {
		var err error

		if recorded, err = ts.manifest.Load(ctx); err != nil {
			return nil, err
		}

		if run, err = ts.manifest.BeginRun(ctx, RunFull); err != nil {
			return nil, err
		}
	}

	ts.logger.Info("full pass starting",
		slog.String("src", ts.m.srcRoot),
		slog.String("dst", ts.m.dstRoot),
		slog.Bool("force", force),
	)

	p := newPass(force)

	if err := ts.walk(ctx, ".", p, ts.reconcile); err != nil {
		return p.failures, fmt.Errorf("sync: full pass: %w", err)
	}

	ts.retireOrphans(ctx, p, recorded)

	if err := ts.commit(ctx, run, p); err != nil {
		return p.failures, err
	}

	if run != nil {
		if err := ts.manifest.FinishRun(ctx, run, len(p.failures), p.stats.retired); err != nil {
			return p.failures, err
		}
	}

	ts.logger.Info("full pass complete",
		slog.Int("visited", p.stats.visited),
		slog.Int("synced", p.stats.synced),
		slog.Int("fresh", p.stats.fresh),
		slog.Int("excluded", p.stats.excluded),
		slog.Int("retired", p.stats.retired),
		slog.Int("failed", len(p.failures)),
		slog.String("copied", humanize.Bytes(p.stats.bytes)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return p.failures, nil
}

// SyncPath synchronizes one relative path unconditionally. It is the unit
// of work of watch mode: no freshness check, no walk.
func (ts *TreeSyncer) SyncPath(ctx context.Context, rel string) error {
	rel = cleanRel(rel)
	ent := ts.m.entity(rel)

	if err := ent.Sync(); err != nil {
		return err
	}

	ts.note(ctx, rel, ent.Kind())

	return nil
}

// SyncSubtree reconciles rel and, when it is a directory, everything below
// it. Unlike SyncPath it honors freshness unless force is set.
func (ts *TreeSyncer) SyncSubtree(ctx context.Context, rel string, force bool) FailureSet {
	rel = cleanRel(rel)
	p := newPass(force)

	if kind, _ := classify(ts.m.srcPath(rel)); kind == KindDirectory {
		if err := ts.walk(ctx, rel, p, ts.reconcile); err != nil {
			ts.logger.Debug("subtree walk interrupted",
				slog.String("path", rel), slog.String("error", err.Error()))
		}
	} else if ts.filter.ShouldSync(rel, false).Included {
		ts.reconcile(ctx, p, rel, nil)
	}

	if err := ts.commit(ctx, ts.liveRun, p); err != nil {
		ts.logger.Warn("manifest update failed", slog.String("path", rel), slog.String("error", err.Error()))
	}

	return p.failures
}

// Move handles a source rename by renaming the destination entity in place,
// so unchanged content is not transformed again. When the old destination
// is gone, the new path is excluded differently, or the rename fails, it
// falls back to retiring the old path and reconciling the new one.
func (ts *TreeSyncer) Move(ctx context.Context, from, to string) error {
	from, to = cleanRel(from), cleanRel(to)

	toKind, _ := classify(ts.m.srcPath(to))
	fromKind, _ := classify(ts.m.srcPath(from))

	if !ts.filter.ShouldSync(to, toKind == KindDirectory).Included {
		return ts.SyncPath(ctx, from)
	}

	if fromKind != KindMissing || toKind == KindMissing || toKind == KindOther {
		return ts.resync(ctx, from, to)
	}

	oldDst, newDst := ts.m.dstPath(from), ts.m.dstPath(to)

	oldInfo, err := os.Lstat(oldDst)
	if err != nil || kindOf(oldInfo.Mode()) != toKind {
		return ts.resync(ctx, from, to)
	}

	if !ts.filter.ShouldSync(from, oldInfo.IsDir()).Included {
		return ts.resync(ctx, from, to)
	}

	if err := removeEntry(newDst); err != nil {
		return ts.resync(ctx, from, to)
	}

	if err := os.Rename(oldDst, newDst); err != nil {
		ts.logger.Debug("in-place rename failed, resyncing",
			slog.String("from", from), slog.String("to", to), slog.String("error", err.Error()))

		return ts.resync(ctx, from, to)
	}

	ts.logger.Info("moved", slog.String("from", from), slog.String("to", to))

	if ts.manifest != nil {
		if err := ts.manifest.Move(ctx, from, to); err != nil {
			ts.logger.Warn("manifest update failed", slog.String("path", to), slog.String("error", err.Error()))
		}
	}

	// A moved directory may carry entries the new source never had, e.g.
	// when an unrelated directory arrived inside the rename window.
	var pruned FailureSet
	if toKind == KindDirectory {
		pruned = ts.pruneStale(ctx, to)
	}

	// A renamed file stays fresh; this only catches what changed meanwhile.
	return errors.Join(subtreeError(to, pruned), subtreeError(to, ts.SyncSubtree(ctx, to, false)))
}

// pruneStale retires every destination entry below rel whose source is
// gone. It walks the destination side, so it reaches entries that a
// source-rooted walk never visits.
func (ts *TreeSyncer) pruneStale(ctx context.Context, rel string) FailureSet {
	p := newPass(false)
	root := ts.m.dstPath(rel)

	err := filepath.WalkDir(root, func(abs string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if abs == root {
			return err
		}

		sub, ok := relativeTo(ts.m.dstRoot, abs)
		if !ok {
			return nil
		}

		if err != nil {
			p.fail(sub)
			return skipEntry(d)
		}

		if kind, _ := classify(ts.m.srcPath(sub)); kind != KindMissing {
			return nil
		}

		if syncErr := ts.m.entity(sub).Sync(); syncErr != nil {
			ts.logger.Warn("retiring stale entry failed",
				slog.String("path", sub), slog.String("error", syncErr.Error()))
			p.fail(sub)

			return skipEntry(d)
		}

		ts.logger.Debug("retired stale entry", slog.String("path", sub))
		p.retired = append(p.retired, sub)
		p.stats.retired++

		// Its subtree went with it.
		return skipEntry(d)
	})
	if err != nil {
		ts.logger.Debug("stale entry walk interrupted",
			slog.String("path", rel), slog.String("error", err.Error()))
	}

	if err := ts.commit(ctx, ts.liveRun, p); err != nil {
		ts.logger.Warn("manifest update failed", slog.String("path", rel), slog.String("error", err.Error()))
	}

	return p.failures
}

func (ts *TreeSyncer) resync(ctx context.Context, from, to string) error {
	retireErr := ts.SyncPath(ctx, from)
	return errors.Join(retireErr, subtreeError(to, ts.SyncSubtree(ctx, to, false)))
}

func subtreeError(root string, failures FailureSet) error {
	if len(failures) == 0 {
		return nil
	}

	return fmt.Errorf("sync: %d path(s) under %s failed: %s", len(failures), root, strings.Join(failures, ", "))
}

// Plan lists what a pass would change without writing anything: stale
// visited paths, plus recorded orphans whose destination still exists.
func (ts *TreeSyncer) Plan(ctx context.Context) ([]PlanEntry, error) {
	if err := ts.prepareRoots(false); err != nil {
		return nil, err
	}

	var plan []PlanEntry

	p := newPass(false)

	err := ts.walk(ctx, ".", p, func(_ context.Context, p *pass, rel string, _ fs.DirEntry) {
		p.visited.Add(nfcNormalize(rel))

		ent := ts.m.entity(rel)
		if !ent.Fresh() {
			plan = append(plan, PlanEntry{Path: rel, Kind: ent.Kind()})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("sync: planning: %w", err)
	}

	if ts.manifest == nil {
		return plan, nil
	}

	recorded, err := ts.manifest.Load(ctx)
	if err != nil {
		return nil, err
	}

	for _, rel := range ts.orphans(p, recorded) {
		if !ts.m.entity(rel).Fresh() {
			plan = append(plan, PlanEntry{Path: rel, Kind: KindMissing, Orphan: true})
		}
	}

	return plan, nil
}

type visitFunc func(ctx context.Context, p *pass, rel string, d fs.DirEntry)

// walk visits rootRel and everything below it in pre-order: a directory
// before its entries. The tree root itself is never visited. Excluded
// directories are pruned, and an unreadable directory is recorded as a
// failure and skipped.
func (ts *TreeSyncer) walk(ctx context.Context, rootRel string, p *pass, visit visitFunc) error {
	start := ts.m.srcPath(rootRel)

	return filepath.WalkDir(start, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, inTree := relativeTo(ts.m.srcRoot, fsPath)

		if walkErr != nil {
			if !inTree {
				return walkErr
			}

			ts.logger.Warn("walk error", slog.String("path", rel), slog.String("error", walkErr.Error()))
			p.fail(rel)

			return skipEntry(d)
		}

		if !inTree {
			return nil
		}

		if result := ts.filter.ShouldSync(rel, d.IsDir()); !result.Included {
			p.stats.excluded++
			return skipEntry(d)
		}

		visit(ctx, p, rel, d)

		return nil
	})
}

// reconcile is the full-pass visit: classify, check, sync.
func (ts *TreeSyncer) reconcile(_ context.Context, p *pass, rel string, d fs.DirEntry) {
	ent := ts.m.entity(rel)

	p.visited.Add(nfcNormalize(rel))
	p.stats.visited++

	if !p.force && ent.Fresh() {
		p.stats.fresh++
		p.mirrored[rel] = ent.Kind()

		return
	}

	if err := ent.Sync(); err != nil {
		ts.logger.Warn("sync failed",
			slog.String("path", rel),
			slog.String("kind", ent.Kind().String()),
			slog.String("error", err.Error()),
		)
		p.fail(rel)

		return
	}

	p.stats.synced++

	switch ent.Kind() {
	case KindMissing:
		p.retired = append(p.retired, rel)
		p.stats.retired++
	case KindFile:
		if d != nil {
			if info, err := d.Info(); err == nil {
				p.stats.bytes += uint64(info.Size())
			}
		}

		p.mirrored[rel] = KindFile
	default:
		p.mirrored[rel] = ent.Kind()
	}
}

// orphans returns recorded paths the pass did not visit and whose source is
// gone, deepest first so children are retired before their parents.
func (ts *TreeSyncer) orphans(p *pass, recorded map[string]ManifestEntry) []string {
	if len(recorded) == 0 {
		return nil
	}

	unvisited := mapset.NewThreadUnsafeSetFromMapKeys(recorded).Difference(p.visited)

	var out []string

	unvisited.Each(func(key string) bool {
		fsPath := recorded[key].FSPath
		if kind, _ := classify(ts.m.srcPath(fsPath)); kind == KindMissing {
			out = append(out, fsPath)
		}

		return false
	})

	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di > dj
		}

		return out[i] > out[j]
	})

	return out
}

// retireOrphans removes the destination of every orphan. Failures join the
// pass's FailureSet.
func (ts *TreeSyncer) retireOrphans(_ context.Context, p *pass, recorded map[string]ManifestEntry) {
	for _, rel := range ts.orphans(p, recorded) {
		ent := ts.m.entity(rel)

		if err := ent.Sync(); err != nil {
			ts.logger.Warn("retiring orphan failed", slog.String("path", rel), slog.String("error", err.Error()))
			p.fail(rel)

			continue
		}

		ts.logger.Debug("retired orphan", slog.String("path", rel))
		p.retired = append(p.retired, rel)
		p.stats.retired++
	}
}

// commit writes what the pass mirrored and retired to the manifest.
func (ts *TreeSyncer) commit(ctx context.Context, run *Run, p *pass) error {
	if ts.manifest == nil {
		return nil
	}

	if err := ts.manifest.Record(ctx, run, p.mirrored); err != nil {
		return err
	}

	return ts.manifest.Forget(ctx, p.retired...)
}

// note keeps the manifest current after a single-path sync.
func (ts *TreeSyncer) note(ctx context.Context, rel string, kind Kind) {
	if ts.manifest == nil {
		return
	}

	var err error
	if kind == KindMissing {
		err = ts.manifest.Forget(ctx, rel)
	} else {
		err = ts.manifest.Record(ctx, ts.liveRun, map[string]Kind{rel: kind})
	}

	if err != nil {
		ts.logger.Warn("manifest update failed", slog.String("path", rel), slog.String("error", err.Error()))
	}
}

// beginLive opens a watch-session run in the manifest.
func (ts *TreeSyncer) beginLive(ctx context.Context) {
	if ts.manifest == nil {
		return
	}

	run, err := ts.manifest.BeginRun(ctx, RunWatch)
	if err != nil {
		ts.logger.Warn("manifest run not recorded", slog.String("error", err.Error()))
		return
	}

	ts.liveRun = run
}

// endLive closes the watch-session run.
func (ts *TreeSyncer) endLive(ctx context.Context, failures int) {
	if ts.manifest == nil || ts.liveRun == nil {
		return
	}

	if err := ts.manifest.FinishRun(ctx, ts.liveRun, failures, 0); err != nil {
		ts.logger.Warn("manifest run not finalized", slog.String("error", err.Error()))
	}

	ts.liveRun = nil
}

// prepareRoots checks that the source root is a directory and, when create
// is set, makes sure the destination root exists.
func (ts *TreeSyncer) prepareRoots(create bool) error {
	info, err := os.Stat(ts.m.srcRoot)
	if err != nil {
		return fmt.Errorf("sync: source root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("sync: source root %s: %w", ts.m.srcRoot, ErrNotDirectory)
	}

	if !create {
		return nil
	}

	if err := os.MkdirAll(ts.m.dstRoot, 0o755); err != nil {
		return fmt.Errorf("sync: creating destination root: %w", err)
	}

	return nil
}

// skipEntry returns filepath.SkipDir for directories so that WalkDir skips
// the entire subtree, or nil for files.
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return filepath.SkipDir
	}

	return nil
}

// cleanRel turns any spelling of a relative path into the slash-separated
// form entities use.
func cleanRel(rel string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
}

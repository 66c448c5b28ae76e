package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/palimpsest/internal/transform"
)

// logRecorder is a slog.Handler that keeps every record for inspection.
type logRecorder struct {
	mu      *stdsync.Mutex
	records *[]slog.Record
}

func newLogRecorder() *logRecorder {
	return &logRecorder{mu: &stdsync.Mutex{}, records: &[]slog.Record{}}
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	*r.records = append(*r.records, rec.Clone())

	return nil
}

func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }

func (r *logRecorder) WithGroup(string) slog.Handler { return r }

// levels returns the levels of records whose message starts with prefix.
func (r *logRecorder) levels(prefix string) []slog.Level {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []slog.Level

	for _, rec := range *r.records {
		if strings.HasPrefix(rec.Message, prefix) {
			out = append(out, rec.Level)
		}
	}

	return out
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testTree is a source/destination pair in a temp dir.
type testTree struct {
	src string
	dst string
}

func newTestTree(t *testing.T) testTree {
	t.Helper()

	dir := t.TempDir()
	tt := testTree{src: filepath.Join(dir, "src"), dst: filepath.Join(dir, "out")}
	require.NoError(t, os.Mkdir(tt.src, 0o755))

	return tt
}

func (tt testTree) write(t *testing.T, rel, content string) {
	t.Helper()

	p := filepath.Join(tt.src, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (tt testTree) writeBytes(t *testing.T, rel string, content []byte) {
	t.Helper()

	p := filepath.Join(tt.src, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, content, 0o644))
}

func (tt testTree) srcPath(rel string) string {
	return filepath.Join(tt.src, filepath.FromSlash(rel))
}

func (tt testTree) dstPath(rel string) string {
	return filepath.Join(tt.dst, filepath.FromSlash(rel))
}

func (tt testTree) readDst(t *testing.T, rel string) string {
	t.Helper()

	data, err := os.ReadFile(tt.dstPath(rel))
	require.NoError(t, err)

	return string(data)
}

// setMtime moves a path's mtime to now+offset.
func setMtime(t *testing.T, path string, offset time.Duration) {
	t.Helper()

	ts := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(path, ts, ts))
}

// testResources is the substitution table used by tree tests.
func testResources() transform.ResourceMap {
	return transform.Flatten(map[string]any{
		"a":    map[string]any{"b": "X"},
		"site": map[string]any{"name": "Palimpsest"},
	}, transform.DefaultDelimiters())
}

type treeOption func(*TreeOptions)

func withFilter(f *FilterEngine) treeOption {
	return func(o *TreeOptions) { o.Filter = f }
}

func withManifest(m *Manifest) treeOption {
	return func(o *TreeOptions) { o.Manifest = m }
}

func newTestSyncer(t *testing.T, tt testTree, opts ...treeOption) *TreeSyncer {
	t.Helper()

	logger := testLogger(t)

	o := TreeOptions{
		SourceRoot:  tt.src,
		DestRoot:    tt.dst,
		Transformer: transform.New(testResources(), logger),
		Logger:      logger,
	}

	for _, opt := range opts {
		opt(&o)
	}

	ts, err := NewTreeSyncer(o)
	require.NoError(t, err)

	return ts
}

func openTestManifest(t *testing.T) *Manifest {
	t.Helper()

	m, err := OpenManifest(t.Context(), filepath.Join(t.TempDir(), "state", "manifest.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { m.Close() })

	return m
}

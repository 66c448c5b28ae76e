package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/palimpsest/internal/config"
)

func newTestFilter(t *testing.T, root string, exclude ...string) *FilterEngine {
	t.Helper()

	f, err := NewFilterEngine(&config.FilterConfig{
		Exclude:      exclude,
		IgnoreMarker: ".palimpsestignore",
	}, root, testLogger(t))
	require.NoError(t, err)

	return f
}

func writeMarker(t *testing.T, root, dir, content string) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(dir))
	require.NoError(t, os.MkdirAll(p, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p, ".palimpsestignore"), []byte(content), 0o644))
}

func TestFilter_NilEngineIncludesEverything(t *testing.T) {
	t.Parallel()

	var f *FilterEngine

	assert.True(t, f.ShouldSync("anything/at/all", false).Included)
	assert.False(t, f.IsMarker(".palimpsestignore"))
	f.Invalidate("x")
}

func TestFilter_InvalidPatternRejected(t *testing.T) {
	t.Parallel()

	_, err := NewFilterEngine(&config.FilterConfig{Exclude: []string{"[unclosed"}}, t.TempDir(), testLogger(t))
	require.Error(t, err)
}

func TestFilter_ExcludeGlobs(t *testing.T) {
	t.Parallel()

	f := newTestFilter(t, t.TempDir(), "*.tmp", "node_modules", "**/cache/**", "drafts/*.md")

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"report.tmp", false, false},
		{"docs/report.tmp", false, true}, // "*" does not cross "/"
		{"node_modules", true, false},
		{"node_modules/pkg/index.js", false, false},
		{"a/cache/b/c.txt", false, false},
		{"drafts/post.md", false, false},
		{"drafts/post.txt", false, true},
		{"notes/drafts/post.md", false, true},
		{"keep.txt", false, true},
	}

	for _, tc := range tests {
		got := f.ShouldSync(tc.path, tc.isDir)
		assert.Equal(t, tc.want, got.Included, tc.path)

		if !tc.want {
			assert.NotEmpty(t, got.Reason, tc.path)
		}
	}
}

func TestFilter_RootMarker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMarker(t, root, ".", "*.log\nbuild/\n!keep.log\n")

	f := newTestFilter(t, root)

	assert.False(t, f.ShouldSync("debug.log", false).Included)
	assert.False(t, f.ShouldSync("sub/debug.log", false).Included)
	assert.True(t, f.ShouldSync("keep.log", false).Included)
	assert.False(t, f.ShouldSync("build", true).Included)
	assert.False(t, f.ShouldSync("build/out.bin", false).Included)
	assert.True(t, f.ShouldSync("src/main.txt", false).Included)
	assert.True(t, f.ShouldSync(".palimpsestignore", false).Included)
}

func TestFilter_NestedMarkerIsRelativeToItsDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMarker(t, root, "docs", "/private\n*.bak\n")

	f := newTestFilter(t, root)

	assert.False(t, f.ShouldSync("docs/private", true).Included)
	assert.False(t, f.ShouldSync("docs/private/x.txt", false).Included)
	assert.False(t, f.ShouldSync("docs/deep/old.bak", false).Included)

	// The marker has no say outside its directory.
	assert.True(t, f.ShouldSync("private", true).Included)
	assert.True(t, f.ShouldSync("old.bak", false).Included)
}

func TestFilter_InvalidateReloadsMarker(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := newTestFilter(t, root)

	assert.True(t, f.ShouldSync("a.log", false).Included)

	writeMarker(t, root, ".", "*.log\n")
	assert.True(t, f.ShouldSync("a.log", false).Included, "absence is cached")

	f.Invalidate(".")
	assert.False(t, f.ShouldSync("a.log", false).Included)
}

func TestFilter_IsMarker(t *testing.T) {
	t.Parallel()

	f := newTestFilter(t, t.TempDir())

	assert.True(t, f.IsMarker(".palimpsestignore"))
	assert.True(t, f.IsMarker("a/b/.palimpsestignore"))
	assert.False(t, f.IsMarker("a/.palimpsestignore.bak"))
}

func TestFilter_NoMarkerConfigured(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeMarker(t, root, ".", "*\n")

	f, err := NewFilterEngine(&config.FilterConfig{}, root, testLogger(t))
	require.NoError(t, err)

	assert.True(t, f.ShouldSync("a.txt", false).Included)
	assert.False(t, f.IsMarker(".palimpsestignore"))
}

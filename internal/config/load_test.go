package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger so config debug output appears in
// test output for CI visibility.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

// isolateDefaults points the default config location at an empty temp dir.
func isolateDefaults(t *testing.T) {
	t.Helper()

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

// chdirTemp moves into a fresh temp dir and returns the working directory
// as the OS reports it.
func chdirTemp(t *testing.T) string {
	t.Helper()

	t.Chdir(t.TempDir())

	cwd, err := os.Getwd()
	require.NoError(t, err)

	return cwd
}

func TestLoad_ValidFullConfig(t *testing.T) {
	tomlContent := `
resources_file = "strings.yaml"
src_dir = "site"
out_dir = "public"
force = true
watch = true

[filter]
exclude = ["*.tmp", "node_modules"]
ignore_marker = ".mirrorignore"

[sync]
mtime_tolerance = "2s"
state_file = "state/manifest.db"

[watcher]
backend = "notify"
rename_window = "250ms"

[logging]
log_level = "debug"
log_format = "json"

[substitution]
open = "{{"
close = "}}"
separator = "/"
`
	path := writeTestConfig(t, tomlContent)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "strings.yaml", cfg.ResourcesFile)
	assert.Equal(t, "site", cfg.SrcDir)
	assert.Equal(t, "public", cfg.OutDir)
	assert.True(t, cfg.Force)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{"*.tmp", "node_modules"}, cfg.Filter.Exclude)
	assert.Equal(t, ".mirrorignore", cfg.Filter.IgnoreMarker)
	assert.Equal(t, "2s", cfg.Sync.MtimeTolerance)
	assert.Equal(t, "state/manifest.db", cfg.Sync.StateFile)
	assert.Equal(t, "notify", cfg.Watcher.Backend)
	assert.Equal(t, "250ms", cfg.Watcher.RenameWindow)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
	assert.Equal(t, SubstitutionConfig{Open: "{{", Close: "}}", Separator: "/"}, cfg.Substitution)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
out_dir = "dist"

[logging]
log_level = "warn"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dist", cfg.OutDir)
	assert.Equal(t, "src", cfg.SrcDir)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)
	assert.Equal(t, "fsnotify", cfg.Watcher.Backend)
}

func TestLoad_JSONConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"resources_file": "res.json",
		"src_dir": "in",
		"out_dir": "out2",
		"force": true,
		"filter": {"exclude": ["*.bak"]}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "res.json", cfg.ResourcesFile)
	assert.Equal(t, "in", cfg.SrcDir)
	assert.Equal(t, "out2", cfg.OutDir)
	assert.True(t, cfg.Force)
	assert.Equal(t, []string{"*.bak"}, cfg.Filter.Exclude)
	assert.Equal(t, ".palimpsestignore", cfg.Filter.IgnoreMarker, "unset keys keep defaults")
}

func TestLoad_JSONConfigUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"source_dir": "in"}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "src_dir = \n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsReported(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "loud"

[watcher]
rename_window = "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.log_level")
	assert.Contains(t, err.Error(), "watcher.rename_window")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOrDefault_EmptyPath(t *testing.T) {
	cfg, found, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_DefaultsRelativeToWorkingDirectory(t *testing.T) {
	isolateDefaults(t)

	cwd := chdirTemp(t)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{}, testLogger(t))
	require.NoError(t, err)

	assert.Empty(t, r.ConfigPath)
	assert.Equal(t, filepath.Join(cwd, "src"), r.SrcDir)
	assert.Equal(t, filepath.Join(cwd, "out"), r.OutDir)
	assert.Equal(t, filepath.Join(cwd, "resources.json"), r.ResourcesFile)
	assert.Empty(t, r.StateFile)
	assert.Equal(t, time.Duration(0), r.MtimeTolerance)
	assert.Equal(t, 100*time.Millisecond, r.RenameWindow)
	assert.Equal(t, "fsnotify", r.WatchBackend)
}

func TestResolve_FilePathsRelativeToConfigFile(t *testing.T) {
	isolateDefaults(t)

	cwd := chdirTemp(t)

	path := writeTestConfig(t, `
resources_file = "res/strings.toml"
src_dir = "site"

[sync]
state_file = "manifest.db"
mtime_tolerance = "1s"
`)
	cfgDir := filepath.Dir(path)

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path}, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, path, r.ConfigPath)
	assert.Equal(t, filepath.Join(cfgDir, "res", "strings.toml"), r.ResourcesFile)
	assert.Equal(t, filepath.Join(cfgDir, "manifest.db"), r.StateFile)
	assert.Equal(t, filepath.Join(cwd, "site"), r.SrcDir, "trees follow the working directory")
	assert.Equal(t, time.Second, r.MtimeTolerance)
}

func TestResolve_Precedence(t *testing.T) {
	isolateDefaults(t)

	cwd := chdirTemp(t)

	path := writeTestConfig(t, `
src_dir = "from-file"
out_dir = "from-file-out"
resources_file = "file-res.json"
force = true
`)

	env := EnvOverrides{
		ConfigPath:    path,
		SrcDir:        "from-env",
		OutDir:        "/abs/env-out",
		ResourcesFile: "env-res.json",
	}

	srcFlag := "from-cli"
	forceFlag := false
	watchFlag := true

	r, err := Resolve(env, CLIOverrides{SrcDir: &srcFlag, Force: &forceFlag, Watch: &watchFlag}, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cwd, "from-cli"), r.SrcDir, "CLI beats env")
	assert.Equal(t, "/abs/env-out", r.OutDir, "env beats file")
	assert.Equal(t, filepath.Join(cwd, "env-res.json"), r.ResourcesFile)
	assert.False(t, r.Force, "explicit --force=false beats file")
	assert.True(t, r.Watch)
}

func TestResolve_CLIConfigBeatsEnv(t *testing.T) {
	isolateDefaults(t)
	chdirTemp(t)

	envPath := writeTestConfig(t, `out_dir = "env-out"`)
	cliPath := writeTestConfig(t, `out_dir = "cli-out"`)

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "cli-out", filepath.Base(r.OutDir))
}

func TestResolve_ExplicitConfigMustExist(t *testing.T) {
	isolateDefaults(t)

	_, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "nope.toml")}, testLogger(t))
	require.Error(t, err)
}

func TestResolve_DefaultConfigFileUsed(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	chdirTemp(t)

	if DefaultConfigDir() != filepath.Join(xdg, appName) {
		t.Skip("platform ignores XDG_CONFIG_HOME")
	}

	require.NoError(t, os.MkdirAll(filepath.Join(xdg, appName), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(xdg, appName, "config.toml"),
		[]byte("out_dir = \"dist\"\n"), 0o600))

	r, err := Resolve(EnvOverrides{}, CLIOverrides{}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "dist", filepath.Base(r.OutDir))
	assert.NotEmpty(t, r.ConfigPath)
}

func TestResolve_RejectsNestedTrees(t *testing.T) {
	isolateDefaults(t)

	chdirTemp(t)

	src := "site"
	out := "site/out"

	_, err := Resolve(EnvOverrides{}, CLIOverrides{SrcDir: &src, OutDir: &out}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not lie inside")

	_, err = Resolve(EnvOverrides{}, CLIOverrides{SrcDir: &src, OutDir: &src}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

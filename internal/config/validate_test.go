package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Enumerations(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"bad log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"bad backend", func(c *Config) { c.Watcher.Backend = "polling" }, "watcher.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Contains(t, err.Error(), "must be one of")
		})
	}
}

func TestValidate_AcceptsEveryEnumValue(t *testing.T) {
	for _, level := range validLogLevels {
		for _, format := range validLogFormats {
			for _, backend := range validBackends {
				cfg := DefaultConfig()
				cfg.Logging.LogLevel = level
				cfg.Logging.LogFormat = format
				cfg.Watcher.Backend = backend

				assert.NoError(t, Validate(cfg), "%s/%s/%s", level, format, backend)
			}
		}
	}
}

func TestValidate_Durations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sync.MtimeTolerance = "-1s"
	cfg.Watcher.RenameWindow = "fast"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.mtime_tolerance: must not be negative")
	assert.Contains(t, err.Error(), "watcher.rename_window: invalid duration")

	cfg = DefaultConfig()
	cfg.Sync.MtimeTolerance = "1500ms"
	cfg.Watcher.RenameWindow = "0s"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Substitution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Substitution = SubstitutionConfig{}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "substitution.open")
	assert.Contains(t, err.Error(), "substitution.close")
	assert.Contains(t, err.Error(), "substitution.separator")
}

func TestValidate_Filter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filter.Exclude = []string{"ok/**", "[broken"}
	cfg.Filter.IgnoreMarker = "dir/.ignore"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid pattern "[broken"`)
	assert.Contains(t, err.Error(), "filter.ignore_marker")

	cfg = DefaultConfig()
	cfg.Filter.IgnoreMarker = ""
	assert.NoError(t, Validate(cfg), "an empty marker disables marker files")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "bad"
	cfg.Watcher.Backend = "bad"
	cfg.Substitution.Open = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "backend")
	assert.Contains(t, err.Error(), "substitution.open")
}

func TestValidateResolved_Trees(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		src     string
		out     string
		state   string
		wantErr string
	}{
		{"siblings", "src", "out", "", ""},
		{"prefix sibling", "site", "site-out", "", ""},
		{"same", "src", "src", "", "must differ"},
		{"out inside src", "src", "src/out", "", "out_dir"},
		{"src inside out", "out/src", "out", "", "src_dir"},
		{"state inside src", "src", "out", "src/.state.db", "state_file"},
		{"state beside", "src", "out", "state.db", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Resolved{
				SrcDir: filepath.Join(root, tt.src),
				OutDir: filepath.Join(root, tt.out),
			}

			if tt.state != "" {
				r.StateFile = filepath.Join(root, tt.state)
			}

			err := ValidateResolved(r)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

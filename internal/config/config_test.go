package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_AllFieldsPopulated(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "resources.json", cfg.ResourcesFile)
	assert.Equal(t, "src", cfg.SrcDir)
	assert.Equal(t, "out", cfg.OutDir)
	assert.False(t, cfg.Force)
	assert.False(t, cfg.Watch)

	// Filter defaults
	assert.Empty(t, cfg.Filter.Exclude)
	assert.Equal(t, ".palimpsestignore", cfg.Filter.IgnoreMarker)

	// Sync defaults
	assert.Equal(t, "0s", cfg.Sync.MtimeTolerance)
	assert.Empty(t, cfg.Sync.StateFile)

	// Watcher defaults
	assert.Equal(t, "fsnotify", cfg.Watcher.Backend)
	assert.Equal(t, "100ms", cfg.Watcher.RenameWindow)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "auto", cfg.Logging.LogFormat)

	// Substitution defaults
	assert.Equal(t, SubstitutionConfig{Open: "@{", Close: "}", Separator: "."}, cfg.Substitution)
}

func TestDefaultConfig_PassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	err := Validate(cfg)
	assert.NoError(t, err)
}

func TestDefaultConfig_IndependentCopies(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	a.Filter.Exclude = append(a.Filter.Exclude, "*.tmp")
	a.Logging.LogLevel = "debug"

	assert.Empty(t, b.Filter.Exclude)
	assert.Equal(t, "info", b.Logging.LogLevel)
}

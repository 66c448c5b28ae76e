package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv("PALIMPSEST_CONFIG", "/custom/config.toml")
	t.Setenv("PALIMPSEST_SRC_DIR", "/site/src")
	t.Setenv("PALIMPSEST_OUT_DIR", "/site/out")
	t.Setenv("PALIMPSEST_RESOURCES_FILE", "/site/strings.yaml")

	overrides := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", overrides.ConfigPath)
	assert.Equal(t, "/site/src", overrides.SrcDir)
	assert.Equal(t, "/site/out", overrides.OutDir)
	assert.Equal(t, "/site/strings.yaml", overrides.ResourcesFile)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	t.Setenv("PALIMPSEST_CONFIG", "")
	t.Setenv("PALIMPSEST_SRC_DIR", "")
	t.Setenv("PALIMPSEST_OUT_DIR", "")
	t.Setenv("PALIMPSEST_RESOURCES_FILE", "")

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides())
}

func TestReadEnvOverrides_PartiallySet(t *testing.T) {
	t.Setenv("PALIMPSEST_CONFIG", "")
	t.Setenv("PALIMPSEST_SRC_DIR", "")
	t.Setenv("PALIMPSEST_OUT_DIR", "public")
	t.Setenv("PALIMPSEST_RESOURCES_FILE", "")

	overrides := ReadEnvOverrides()
	assert.Empty(t, overrides.ConfigPath)
	assert.Empty(t, overrides.SrcDir)
	assert.Equal(t, "public", overrides.OutDir)
}

func TestEnvVarConstants(t *testing.T) {
	assert.Equal(t, "PALIMPSEST_CONFIG", EnvConfig)
	assert.Equal(t, "PALIMPSEST_SRC_DIR", EnvSrcDir)
	assert.Equal(t, "PALIMPSEST_OUT_DIR", EnvOutDir)
	assert.Equal(t, "PALIMPSEST_RESOURCES_FILE", EnvResourcesFile)
}

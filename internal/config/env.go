package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig        = "PALIMPSEST_CONFIG"
	EnvSrcDir        = "PALIMPSEST_SRC_DIR"
	EnvOutDir        = "PALIMPSEST_OUT_DIR"
	EnvResourcesFile = "PALIMPSEST_RESOURCES_FILE"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath    string // PALIMPSEST_CONFIG: override config file path
	SrcDir        string // PALIMPSEST_SRC_DIR: source tree override
	OutDir        string // PALIMPSEST_OUT_DIR: output tree override
	ResourcesFile string // PALIMPSEST_RESOURCES_FILE: resource file override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:    os.Getenv(EnvConfig),
		SrcDir:        os.Getenv(EnvSrcDir),
		OutDir:        os.Getenv(EnvOutDir),
		ResourcesFile: os.Getenv(EnvResourcesFile),
	}
}

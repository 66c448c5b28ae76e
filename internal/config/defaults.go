package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain and are chosen so that a bare
// `palimpsest sync` in a project directory works without any config file.
const (
	defaultResourcesFile  = "resources.json"
	defaultSrcDir         = "src"
	defaultOutDir         = "out"
	defaultIgnoreMarker   = ".palimpsestignore"
	defaultMtimeTolerance = "0s"
	defaultWatchBackend   = "fsnotify"
	defaultRenameWindow   = "100ms"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultOpen           = "@{"
	defaultClose          = "}"
	defaultSeparator      = "."
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		ResourcesFile: defaultResourcesFile,
		SrcDir:        defaultSrcDir,
		OutDir:        defaultOutDir,
		Filter:        defaultFilterConfig(),
		Sync:          defaultSyncConfig(),
		Watcher:       defaultWatcherConfig(),
		Logging:       defaultLoggingConfig(),
		Substitution:  defaultSubstitutionConfig(),
	}
}

func defaultFilterConfig() FilterConfig {
	return FilterConfig{
		IgnoreMarker: defaultIgnoreMarker,
	}
}

func defaultSyncConfig() SyncConfig {
	return SyncConfig{
		MtimeTolerance: defaultMtimeTolerance,
	}
}

func defaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Backend:      defaultWatchBackend,
		RenameWindow: defaultRenameWindow,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultSubstitutionConfig() SubstitutionConfig {
	return SubstitutionConfig{
		Open:      defaultOpen,
		Close:     defaultClose,
		Separator: defaultSeparator,
	}
}

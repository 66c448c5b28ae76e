// Package config implements configuration loading, validation, and
// platform-specific path resolution for palimpsest. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) and
// loads the nested resource file that feeds the substitution table.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML (or
// legacy JSON) file. Top-level keys name the three things every run needs:
// the resource file, the source tree, and the output tree.
type Config struct {
	ResourcesFile string `toml:"resources_file" json:"resources_file"`
	SrcDir        string `toml:"src_dir"        json:"src_dir"`
	OutDir        string `toml:"out_dir"        json:"out_dir"`
	Force         bool   `toml:"force"          json:"force"`
	Watch         bool   `toml:"watch"          json:"watch"`

	Filter       FilterConfig       `toml:"filter"       json:"filter"`
	Sync         SyncConfig         `toml:"sync"         json:"sync"`
	Watcher      WatcherConfig      `toml:"watcher"      json:"watcher"`
	Logging      LoggingConfig      `toml:"logging"      json:"logging"`
	Substitution SubstitutionConfig `toml:"substitution" json:"substitution"`
}

// FilterConfig controls which source paths are mirrored. Exclude patterns
// are doublestar globs matched against slash-separated relative paths.
type FilterConfig struct {
	Exclude      []string `toml:"exclude"       json:"exclude"`
	IgnoreMarker string   `toml:"ignore_marker" json:"ignore_marker"`
}

// SyncConfig controls the reconciliation pass.
type SyncConfig struct {
	MtimeTolerance string `toml:"mtime_tolerance" json:"mtime_tolerance"`
	StateFile      string `toml:"state_file"      json:"state_file"`
}

// WatcherConfig controls watch mode.
type WatcherConfig struct {
	Backend      string `toml:"backend"       json:"backend"`
	RenameWindow string `toml:"rename_window" json:"rename_window"`
}

// LoggingConfig controls log output: level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"  json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// SubstitutionConfig sets the key syntax of the resource table.
type SubstitutionConfig struct {
	Open      string `toml:"open"      json:"open"`
	Close     string `toml:"close"     json:"close"`
	Separator string `toml:"separator" json:"separator"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value": --force=false is different from not
// passing --force at all.
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	ResourcesFile *string // --resources-file flag
	SrcDir        *string // --src-dir flag
	OutDir        *string // --out-dir flag
	Force         *bool   // --force flag
	Watch         *bool   // --watch flag
}

// Resolved is the fully merged, validated configuration handed to the
// engine. Paths are absolute and durations parsed.
type Resolved struct {
	ConfigPath    string `json:"config_path"`
	ResourcesFile string `json:"resources_file"`
	SrcDir        string `json:"src_dir"`
	OutDir        string `json:"out_dir"`
	Force         bool   `json:"force"`
	Watch         bool   `json:"watch"`

	Filter       FilterConfig       `json:"filter"`
	Substitution SubstitutionConfig `json:"substitution"`
	Logging      LoggingConfig      `json:"logging"`

	StateFile      string        `json:"state_file"`
	MtimeTolerance time.Duration `json:"mtime_tolerance_ns"`
	WatchBackend   string        `json:"watch_backend"`
	RenameWindow   time.Duration `json:"rename_window_ns"`
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
)

// Load reads and parses a config file, validates it, and returns the
// resulting Config. Files ending in ".json" use the historical JSON format;
// everything else is TOML. Unknown keys are fatal in both: TOML errors carry
// "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := decodeJSONConfig(path, cfg); err != nil {
			return nil, err
		}
	} else {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		if err := checkUnknownKeys(&md); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func decodeJSONConfig(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}

// LoadOrDefault reads a config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		return DefaultConfig(), false, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	return cfg, true, nil
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully resolved and validated configuration with absolute
// paths and parsed durations.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default. An explicitly named file
	// must exist; only the default location may be absent.
	cfgPath, explicit := DefaultConfigPath(), false
	if env.ConfigPath != "" {
		cfgPath, explicit = env.ConfigPath, true
	}

	if cli.ConfigPath != "" {
		cfgPath, explicit = cli.ConfigPath, true
	}

	cfgPath = expandTilde(cfgPath)

	var (
		cfg   *Config
		found bool
		err   error
	)

	if explicit {
		cfg, err = Load(cfgPath)
		found = err == nil
	} else {
		cfg, found, err = LoadOrDefault(cfgPath)
	}

	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}

	// Paths written in the config file are relative to the file itself.
	fileBase := cwd
	if found {
		fileBase = filepath.Dir(absFrom(cwd, cfgPath))
		logger.Debug("config file loaded", slog.String("path", cfgPath))
	} else {
		cfgPath = ""
		logger.Debug("no config file, using defaults")
	}

	resolved := &Resolved{
		ConfigPath:    cfgPath,
		ResourcesFile: absFrom(fileBase, cfg.ResourcesFile),
		SrcDir:        absFrom(cwd, cfg.SrcDir),
		OutDir:        absFrom(cwd, cfg.OutDir),
		Force:         cfg.Force,
		Watch:         cfg.Watch,
		Filter:        cfg.Filter,
		Substitution:  cfg.Substitution,
		Logging:       cfg.Logging,
		WatchBackend:  cfg.Watcher.Backend,
	}

	if cfg.Sync.StateFile != "" {
		resolved.StateFile = absFrom(fileBase, cfg.Sync.StateFile)
	}

	// Validate already checked that both durations parse.
	resolved.MtimeTolerance, _ = time.ParseDuration(cfg.Sync.MtimeTolerance)
	resolved.RenameWindow, _ = time.ParseDuration(cfg.Watcher.RenameWindow)

	// 2. Apply env overrides. Paths from the environment and the command
	// line are relative to the working directory.
	applyPath(&resolved.SrcDir, cwd, env.SrcDir)
	applyPath(&resolved.OutDir, cwd, env.OutDir)
	applyPath(&resolved.ResourcesFile, cwd, env.ResourcesFile)

	// 3. Apply CLI overrides (pointer fields: nil = not specified).
	if cli.SrcDir != nil {
		applyPath(&resolved.SrcDir, cwd, *cli.SrcDir)
	}

	if cli.OutDir != nil {
		applyPath(&resolved.OutDir, cwd, *cli.OutDir)
	}

	if cli.ResourcesFile != nil {
		applyPath(&resolved.ResourcesFile, cwd, *cli.ResourcesFile)
	}

	if cli.Force != nil {
		resolved.Force = *cli.Force
	}

	if cli.Watch != nil {
		resolved.Watch = *cli.Watch
	}

	// 4. Validate the final merged result.
	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	logger.Debug("config resolved",
		slog.String("src_dir", resolved.SrcDir),
		slog.String("out_dir", resolved.OutDir),
		slog.String("resources_file", resolved.ResourcesFile),
		slog.String("state_file", resolved.StateFile),
	)

	return resolved, nil
}

// applyPath overwrites *dst with value resolved against base, unless value
// is empty.
func applyPath(dst *string, base, value string) {
	if value != "" {
		*dst = absFrom(base, value)
	}
}

// absFrom expands a leading "~/" and makes p absolute relative to base.
func absFrom(base, p string) string {
	p = expandTilde(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(base, p)
}

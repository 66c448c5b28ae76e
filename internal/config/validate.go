package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Accepted enumeration values.
var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
	validBackends   = []string{"fsnotify", "notify"}
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateFilter(&cfg.Filter)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateWatcher(&cfg.Watcher)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateSubstitution(&cfg.Substitution)...)

	return errors.Join(errs...)
}

// ValidateResolved checks cross-field constraints on the fully merged
// configuration. Unlike Validate, which checks raw config file values, this
// runs after env and CLI overrides have been applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.SrcDir == r.OutDir {
		errs = append(errs, fmt.Errorf("src_dir and out_dir must differ, both are %q", r.SrcDir))
	} else {
		if within(r.SrcDir, r.OutDir) {
			errs = append(errs, fmt.Errorf("out_dir %q must not lie inside src_dir %q", r.OutDir, r.SrcDir))
		}

		if within(r.OutDir, r.SrcDir) {
			errs = append(errs, fmt.Errorf("src_dir %q must not lie inside out_dir %q", r.SrcDir, r.OutDir))
		}
	}

	if r.StateFile != "" && within(r.SrcDir, r.StateFile) {
		errs = append(errs, fmt.Errorf("state_file %q must not lie inside src_dir %q", r.StateFile, r.SrcDir))
	}

	return errors.Join(errs...)
}

// within reports whether p lies strictly below root. Both are absolute.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func validateFilter(f *FilterConfig) []error {
	var errs []error

	for _, p := range f.Exclude {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, fmt.Errorf("filter.exclude: invalid pattern %q", p))
		}
	}

	if strings.ContainsAny(f.IgnoreMarker, `/\`) {
		errs = append(errs, fmt.Errorf("filter.ignore_marker: must be a file name, got %q", f.IgnoreMarker))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	if err := validateDuration("sync.mtime_tolerance", s.MtimeTolerance); err != nil {
		return []error{err}
	}

	return nil
}

func validateWatcher(w *WatcherConfig) []error {
	var errs []error

	if err := validateEnum("watcher.backend", w.Backend, validBackends); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("watcher.rename_window", w.RenameWindow); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if err := validateEnum("logging.log_level", l.LogLevel, validLogLevels); err != nil {
		errs = append(errs, err)
	}

	if err := validateEnum("logging.log_format", l.LogFormat, validLogFormats); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateSubstitution(s *SubstitutionConfig) []error {
	var errs []error

	if s.Open == "" {
		errs = append(errs, errors.New("substitution.open: must not be empty"))
	}

	if s.Close == "" {
		errs = append(errs, errors.New("substitution.close: must not be empty"))
	}

	if s.Separator == "" {
		errs = append(errs, errors.New("substitution.separator: must not be empty"))
	}

	return errs
}

func validateEnum(key, value string, valid []string) error {
	if slices.Contains(valid, value) {
		return nil
	}

	return fmt.Errorf("%s: must be one of %s; got %q", key, strings.Join(valid, ", "), value)
}

// validateDuration accepts any non-negative Go duration string.
func validateDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}

	if d < 0 {
		return fmt.Errorf("%s: must not be negative, got %q", key, value)
	}

	return nil
}

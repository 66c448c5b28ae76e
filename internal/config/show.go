package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all four override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (from %s)\n\n", r.ConfigPath)
	} else {
		ew.printf("# Effective configuration (defaults, no config file)\n\n")
	}

	renderTopLevel(ew, r)
	renderFilterSection(ew, &r.Filter)
	renderSyncSection(ew, r)
	renderWatcherSection(ew, r)
	renderLoggingSection(ew, &r.Logging)
	renderSubstitutionSection(ew, &r.Substitution)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderTopLevel(ew *errWriter, r *Resolved) {
	ew.printf("resources_file = %q\n", r.ResourcesFile)
	ew.printf("src_dir        = %q\n", r.SrcDir)
	ew.printf("out_dir        = %q\n", r.OutDir)
	ew.printf("force          = %t\n", r.Force)
	ew.printf("watch          = %t\n", r.Watch)
	ew.printf("\n")
}

func renderFilterSection(ew *errWriter, f *FilterConfig) {
	ew.printf("[filter]\n")
	ew.printf("  exclude       = [%s]\n", joinQuoted(f.Exclude))
	ew.printf("  ignore_marker = %q\n", f.IgnoreMarker)
	ew.printf("\n")
}

func renderSyncSection(ew *errWriter, r *Resolved) {
	ew.printf("[sync]\n")
	ew.printf("  mtime_tolerance = %q\n", r.MtimeTolerance.String())

	if r.StateFile != "" {
		ew.printf("  state_file      = %q\n", r.StateFile)
	} else {
		ew.printf("  # state_file unset: orphans are not retired\n")
	}

	ew.printf("\n")
}

func renderWatcherSection(ew *errWriter, r *Resolved) {
	ew.printf("[watcher]\n")
	ew.printf("  backend       = %q\n", r.WatchBackend)
	ew.printf("  rename_window = %q\n", r.RenameWindow.String())
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderSubstitutionSection(ew *errWriter, s *SubstitutionConfig) {
	ew.printf("[substitution]\n")
	ew.printf("  open      = %q\n", s.Open)
	ew.printf("  close     = %q\n", s.Close)
	ew.printf("  separator = %q\n", s.Separator)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}

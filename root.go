package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/palimpsest/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath    string
	flagResourcesFile string
	flagSrcDir        string
	flagOutDir        string
	flagJSON          bool
	flagVerbose       bool
	flagQuiet         bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "palimpsest",
		Short: "Mirror a source tree, substituting resource keys in text files",
		Long: `palimpsest mirrors a source directory into an output directory. Text files
are rewritten on the way through, replacing every resource key (for example
@{site.title}) with its value from the resources file. Everything else is
copied verbatim, symlinks are recreated, and destination entries whose source
is gone are removed.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagResourcesFile, "resources-file", "", "resources file (json, yaml or toml)")
	cmd.PersistentFlags().StringVar(&flagSrcDir, "src-dir", "", "source directory")
	cmd.PersistentFlags().StringVar(&flagOutDir, "out-dir", "", "output directory")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newResourcesCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer override
// chain and stores the result in resolvedCfg for use by subcommands. Path
// flags are forwarded only when the user explicitly set them.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	flags := cmd.Flags()

	if flags.Changed("resources-file") {
		cli.ResourcesFile = &flagResourcesFile
	}

	if flags.Changed("src-dir") {
		cli.SrcDir = &flagSrcDir
	}

	if flags.Changed("out-dir") {
		cli.OutDir = &flagOutDir
	}

	if flags.Changed("force") {
		cli.Force = &flagForce
	}

	if flags.Changed("watch") {
		cli.Watch = &flagWatch
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli, bootstrapLogger())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// bootstrapLogger is used while the configuration itself is being resolved,
// before log_level and log_format are known. It only reports warnings unless
// --verbose is set.
func bootstrapLogger() *slog.Logger {
	level := slog.LevelWarn

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger() *slog.Logger {
	format := "auto"
	if resolvedCfg != nil {
		format = resolvedCfg.Logging.LogFormat
	}

	return slog.New(newLogHandler(os.Stderr, format, logLevel(), isatty.IsTerminal(os.Stderr.Fd())))
}

// logLevel merges the configured level with the --verbose/--quiet flags.
func logLevel() slog.Level {
	level := slog.LevelInfo

	// Config-based log level (lower priority than CLI flags).
	if resolvedCfg != nil {
		switch resolvedCfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return level
}

// newLogHandler picks the handler for a log_format value. "auto" is a
// colored console handler on a terminal and plain text otherwise.
func newLogHandler(w io.Writer, format string, level slog.Level, terminal bool) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "auto":
		if terminal {
			return tint.NewHandler(w, &tint.Options{
				Level:      level,
				TimeFormat: "15:04:05.000",
			})
		}
	}

	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/palimpsest/internal/config"
	"github.com/tonimelisma/palimpsest/internal/sync"
	"github.com/tonimelisma/palimpsest/internal/transform"
)

// errSyncIncomplete is returned by a one-shot sync whose failure set is not
// empty. The failed paths have already been printed; main only sets the
// exit code.
var errSyncIncomplete = errors.New("sync finished with failures")

// Sync-only flags. force and watch also feed the config resolver.
var (
	flagForce  bool
	flagWatch  bool
	flagDryRun bool
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the source tree into the output tree",
		Long: `Run a reconciliation pass that brings the output tree in line with the
source tree. Files whose output is newer than their source are skipped unless
--force is given. Use --dry-run to list what would change, or --watch to keep
the output current until interrupted.`,
		RunE: runSync,
	}

	cmd.Flags().BoolVar(&flagForce, "force", false, "rewrite every path regardless of freshness")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "keep mirroring source changes until interrupted")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "list stale paths without writing anything")

	cmd.MarkFlagsMutuallyExclusive("watch", "dry-run")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	logger := buildLogger()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx = shutdownContext(ctx, logger)

	session, err := openSession(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	switch {
	case flagDryRun:
		return runPlan(ctx, session, cmd.OutOrStdout())
	case resolvedCfg.Watch:
		return runWatch(ctx, session, resolvedCfg, logger)
	default:
		return runOnce(ctx, session, resolvedCfg, cmd.ErrOrStderr())
	}
}

// mirrorSession bundles the engine pieces one command invocation uses.
type mirrorSession struct {
	tree     *sync.TreeSyncer
	manifest *sync.Manifest
}

// openSession loads the resources, compiles the transformer and filter, and
// opens the manifest when a state file is configured.
func openSession(ctx context.Context, cfg *config.Resolved, logger *slog.Logger) (*mirrorSession, error) {
	rm, err := loadResourceMap(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("resources loaded",
		slog.String("path", cfg.ResourcesFile),
		slog.Int("keys", len(rm)),
	)

	filter, err := sync.NewFilterEngine(&cfg.Filter, cfg.SrcDir, logger)
	if err != nil {
		return nil, err
	}

	s := &mirrorSession{}

	if cfg.StateFile != "" {
		if s.manifest, err = sync.OpenManifest(ctx, cfg.StateFile, logger); err != nil {
			return nil, err
		}

		logLastRun(ctx, s.manifest, logger)
	}

	s.tree, err = sync.NewTreeSyncer(sync.TreeOptions{
		SourceRoot:     cfg.SrcDir,
		DestRoot:       cfg.OutDir,
		Transformer:    transform.New(rm, logger),
		Filter:         filter,
		Manifest:       s.manifest,
		MtimeTolerance: cfg.MtimeTolerance,
		Logger:         logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func (s *mirrorSession) Close() error {
	if s.manifest == nil {
		return nil
	}

	return s.manifest.Close()
}

// loadResourceMap reads the resources file and flattens it with the
// configured key syntax.
func loadResourceMap(cfg *config.Resolved) (transform.ResourceMap, error) {
	raw, err := config.LoadResources(cfg.ResourcesFile)
	if err != nil {
		return nil, err
	}

	return transform.Flatten(raw, transform.Delimiters{
		Open:      cfg.Substitution.Open,
		Close:     cfg.Substitution.Close,
		Separator: cfg.Substitution.Separator,
	}), nil
}

func logLastRun(ctx context.Context, m *sync.Manifest, logger *slog.Logger) {
	last, err := m.LastRun(ctx)
	if err != nil {
		logger.Warn("reading previous run", slog.String("error", err.Error()))
		return
	}

	if last == nil {
		logger.Debug("no previous run recorded")
		return
	}

	logger.Info("previous run",
		slog.String("mode", string(last.Mode)),
		slog.String("finished", formatTime(last.FinishedAt)),
		slog.Int("failures", last.Failures),
		slog.Int("retired", last.Retired),
	)
}

// runOnce performs one full pass. Failed paths are printed to w and turn
// into errSyncIncomplete.
func runOnce(ctx context.Context, s *mirrorSession, cfg *config.Resolved, w io.Writer) error {
	failures, err := s.tree.Sync(ctx, cfg.Force)
	if err != nil {
		return err
	}

	if len(failures) == 0 {
		statusf(flagQuiet, "Mirrored %s into %s\n", cfg.SrcDir, cfg.OutDir)
		return nil
	}

	fmt.Fprintf(w, "%d path(s) could not be synchronized:\n", len(failures))

	for _, rel := range failures {
		fmt.Fprintf(w, "  %s\n", rel)
	}

	return errSyncIncomplete
}

// planRow is the JSON form of one dry-run entry.
type planRow struct {
	Action string `json:"action"`
	Kind   string `json:"kind"`
	Path   string `json:"path"`
}

func runPlan(ctx context.Context, s *mirrorSession, w io.Writer) error {
	plan, err := s.tree.Plan(ctx)
	if err != nil {
		return err
	}

	rows := make([]planRow, 0, len(plan))

	for _, entry := range plan {
		rows = append(rows, planRow{
			Action: planAction(entry),
			Kind:   entry.Kind.String(),
			Path:   entry.Path,
		})
	}

	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "Nothing to do.")
		return nil
	}

	table := make([][]string, len(rows))
	for i, r := range rows {
		table[i] = []string{r.Action, r.Kind, r.Path}
	}

	printTable(w, []string{"ACTION", "KIND", "PATH"}, table)

	return nil
}

func planAction(entry sync.PlanEntry) string {
	switch {
	case entry.Orphan:
		return "retire"
	case entry.Kind == sync.KindMissing:
		return "remove"
	default:
		return "write"
	}
}

// runWatch holds the output lock, runs a full pass, then mirrors change
// events until ctx is canceled.
func runWatch(ctx context.Context, s *mirrorSession, cfg *config.Resolved, logger *slog.Logger) error {
	release, err := acquireWatchLock(config.LockPath(cfg.OutDir))
	if err != nil {
		return err
	}
	defer release()

	failures, err := s.tree.Sync(ctx, cfg.Force)
	if err != nil {
		return err
	}

	if len(failures) > 0 {
		logger.Warn("initial pass incomplete, watching anyway",
			slog.Int("failed", len(failures)),
			slog.Any("paths", []string(failures)),
		)
	}

	w := sync.NewChangeWatcher(s.tree, sync.WatcherOptions{
		Backend:      cfg.WatchBackend,
		RenameWindow: cfg.RenameWindow,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	statusf(flagQuiet, "Watching %s (Ctrl-C to stop)\n", cfg.SrcDir)

	<-ctx.Done()

	return w.Stop()
}

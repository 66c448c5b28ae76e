package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// SQL statements for manifest operations. Subtree statements match a path
// and everything below it: path = p OR path starts with p + "/". substr
// counts characters, so prefix lengths are rune counts.
const (
	sqlLoadPaths = `SELECT path, fs_path, kind, run_id, synced_at FROM paths`

	sqlUpsertPath = `INSERT INTO paths (path, fs_path, kind, run_id, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
		 fs_path = excluded.fs_path,
		 kind = excluded.kind,
		 run_id = excluded.run_id,
		 synced_at = excluded.synced_at`

	sqlDeletePathTree = `DELETE FROM paths WHERE path = ? OR substr(path, 1, ?) = ?`

	sqlMovePathTree = `UPDATE paths
		SET path = ? || substr(path, ?), fs_path = ? || substr(fs_path, ?)
		WHERE path = ? OR substr(path, 1, ?) = ?`

	sqlInsertRun = `INSERT INTO runs (id, mode, started_at) VALUES (?, ?, ?)`

	sqlFinishRun = `UPDATE runs SET finished_at = ?, failures = ?, retired = ? WHERE id = ?`

	sqlLastRun = `SELECT id, mode, started_at, finished_at, failures, retired
		FROM runs WHERE finished_at IS NOT NULL ORDER BY started_at DESC LIMIT 1`
)

// RunMode tells full passes and watch sessions apart in the runs table.
type RunMode string

// Run modes.
const (
	RunFull  RunMode = "full"
	RunWatch RunMode = "watch"
)

// Run is one row of the runs table.
type Run struct {
	ID         string
	Mode       RunMode
	StartedAt  time.Time
	FinishedAt time.Time
	Failures   int
	Retired    int
}

// ManifestEntry is one mirrored path. Path is the NFC-normalized key;
// FSPath is the spelling found on disk.
type ManifestEntry struct {
	Path     string
	FSPath   string
	Kind     Kind
	RunID    string
	SyncedAt time.Time
}

// Manifest records which destination paths earlier passes produced, so a
// later pass can retire the ones whose source has since disappeared. It is
// the sole writer to its SQLite database.
type Manifest struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// OpenManifest opens (creating if needed) the SQLite database at dbPath and
// runs migrations. The database uses WAL mode with synchronous=FULL.
func OpenManifest(ctx context.Context, dbPath string, logger *slog.Logger) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("sync: creating manifest directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening manifest %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("manifest opened", slog.String("db_path", dbPath))

	return &Manifest{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// Close releases the database.
func (m *Manifest) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("sync: closing manifest: %w", err)
	}

	return nil
}

// Load returns every recorded path keyed by its normalized relative path.
func (m *Manifest) Load(ctx context.Context) (map[string]ManifestEntry, error) {
	rows, err := m.db.QueryContext(ctx, sqlLoadPaths)
	if err != nil {
		return nil, fmt.Errorf("sync: loading manifest: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]ManifestEntry)

	for rows.Next() {
		var (
			e        ManifestEntry
			kind     string
			runID    sql.NullString
			syncedAt int64
		)

		if err := rows.Scan(&e.Path, &e.FSPath, &kind, &runID, &syncedAt); err != nil {
			return nil, fmt.Errorf("sync: scanning manifest row: %w", err)
		}

		if e.Kind, err = ParseKind(kind); err != nil {
			return nil, err
		}

		e.RunID = runID.String
		e.SyncedAt = time.Unix(0, syncedAt)
		entries[e.Path] = e
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating manifest rows: %w", err)
	}

	m.logger.Debug("manifest loaded", slog.Int("entries", len(entries)))

	return entries, nil
}

// BeginRun inserts a new run row and returns it.
func (m *Manifest) BeginRun(ctx context.Context, mode RunMode) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: m.nowFunc(),
	}

	if _, err := m.db.ExecContext(ctx, sqlInsertRun, run.ID, string(mode), run.StartedAt.UnixNano()); err != nil {
		return nil, fmt.Errorf("sync: recording run start: %w", err)
	}

	return run, nil
}

// FinishRun stamps the run with its end time and counters.
func (m *Manifest) FinishRun(ctx context.Context, run *Run, failures, retired int) error {
	run.FinishedAt = m.nowFunc()
	run.Failures = failures
	run.Retired = retired

	if _, err := m.db.ExecContext(ctx, sqlFinishRun,
		run.FinishedAt.UnixNano(), failures, retired, run.ID); err != nil {
		return fmt.Errorf("sync: recording run end: %w", err)
	}

	return nil
}

// LastRun returns the most recent finished run, or nil when there is none.
func (m *Manifest) LastRun(ctx context.Context) (*Run, error) {
	var (
		run      Run
		mode     string
		started  int64
		finished int64
	)

	err := m.db.QueryRowContext(ctx, sqlLastRun).Scan(
		&run.ID, &mode, &started, &finished, &run.Failures, &run.Retired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: reading last run: %w", err)
	}

	run.Mode = RunMode(mode)
	run.StartedAt = time.Unix(0, started)
	run.FinishedAt = time.Unix(0, finished)

	return &run, nil
}

// Record upserts mirrored paths in one transaction. Only directories,
// files and symlinks are recorded; other kinds are ignored. run may be nil.
func (m *Manifest) Record(ctx context.Context, run *Run, paths map[string]Kind) error {
	if len(paths) == 0 {
		return nil
	}

	var runID sql.NullString
	if run != nil {
		runID = sql.NullString{String: run.ID, Valid: true}
	}

	now := m.nowFunc().UnixNano()

	return m.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, sqlUpsertPath)
		if err != nil {
			return fmt.Errorf("sync: preparing manifest upsert: %w", err)
		}
		defer stmt.Close()

		for fsPath, kind := range paths {
			if kind != KindDirectory && kind != KindFile && kind != KindSymlink {
				continue
			}

			if _, err := stmt.ExecContext(ctx, nfcNormalize(fsPath), fsPath, kind.String(), runID, now); err != nil {
				return fmt.Errorf("sync: recording %s: %w", fsPath, err)
			}
		}

		return nil
	})
}

// Forget removes each path and every recorded path below it.
func (m *Manifest) Forget(ctx context.Context, fsPaths ...string) error {
	if len(fsPaths) == 0 {
		return nil
	}

	return m.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range fsPaths {
			key := nfcNormalize(p)
			prefix := key + "/"

			if _, err := tx.ExecContext(ctx, sqlDeletePathTree,
				key, utf8.RuneCountInString(prefix), prefix); err != nil {
				return fmt.Errorf("sync: forgetting %s: %w", p, err)
			}
		}

		return nil
	})
}

// Move re-keys a recorded path and its subtree from one relative path to
// another. Anything previously recorded at the new location is dropped.
func (m *Manifest) Move(ctx context.Context, from, to string) error {
	fromKey, toKey := nfcNormalize(from), nfcNormalize(to)
	fromPrefix, toPrefix := fromKey+"/", toKey+"/"

	return m.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlDeletePathTree,
			toKey, utf8.RuneCountInString(toPrefix), toPrefix); err != nil {
			return fmt.Errorf("sync: clearing %s: %w", to, err)
		}

		keyCut := utf8.RuneCountInString(fromKey) + 1
		fsCut := utf8.RuneCountInString(from) + 1

		if _, err := tx.ExecContext(ctx, sqlMovePathTree,
			toKey, keyCut, to, fsCut,
			fromKey, utf8.RuneCountInString(fromPrefix), fromPrefix); err != nil {
			return fmt.Errorf("sync: moving %s to %s: %w", from, to, err)
		}

		return nil
	})
}

func (m *Manifest) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync: beginning manifest transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync: committing manifest transaction: %w", err)
	}

	return nil
}

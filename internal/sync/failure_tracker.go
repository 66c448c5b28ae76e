package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Failure log damping constants for watch mode.
const (
	failureThreshold = 3                // log at Debug from this many failures on
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

// failureRecord tracks failures for a single path.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker keeps repeated failures of one path from flooding the log
// in watch mode. It never suppresses work: every event still gets its sync
// attempt. The first failures of a path log at Warn; once a path reaches
// failureThreshold within failureCooldown, further failures log at Debug.
// Success clears the record. Thread-safe.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// recordFailure counts a failure for path and logs it at the level its
// history calls for.
func (ft *failureTracker) recordFailure(path string, err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	key := nfcNormalize(path)

	rec, ok := ft.records[key]
	if !ok {
		rec = &failureRecord{}
		ft.records[key] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = err.Error()
	rec.lastAt = ft.nowFunc()

	attrs := []any{
		slog.String("path", path),
		slog.Int("failures", rec.count),
		slog.String("error", rec.lastErr),
	}

	switch {
	case rec.count < failureThreshold:
		ft.logger.Warn("watch: sync failed", attrs...)
	case rec.count == failureThreshold:
		ft.logger.Warn("watch: path keeps failing, further failures logged at debug",
			append(attrs, slog.Duration("cooldown", failureCooldown))...)
	default:
		ft.logger.Debug("watch: sync failed", attrs...)
	}
}

// recordSuccess clears the failure record for a path.
func (ft *failureTracker) recordSuccess(path string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, nfcNormalize(path))
}

// failures returns the current failure count for path.
func (ft *failureTracker) failures(path string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[nfcNormalize(path)]
	if !ok || ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		return 0
	}

	return rec.count
}

// total returns the number of paths currently failing.
func (ft *failureTracker) total() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	return len(ft.records)
}

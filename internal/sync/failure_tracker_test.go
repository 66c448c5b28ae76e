package sync

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureTracker_DemotesLogLevelAfterThreshold(t *testing.T) {
	t.Parallel()

	rec := newLogRecorder()
	ft := newFailureTracker(slog.New(rec))

	path := "docs/report.md"

	for range failureThreshold + 2 {
		ft.recordFailure(path, errors.New("permission denied"))
	}

	levels := rec.levels("watch:")
	require.Len(t, levels, failureThreshold+2)

	for i := range failureThreshold {
		assert.Equal(t, slog.LevelWarn, levels[i], "failure %d", i+1)
	}

	assert.Equal(t, slog.LevelDebug, levels[failureThreshold])
	assert.Equal(t, slog.LevelDebug, levels[failureThreshold+1])
	assert.Equal(t, failureThreshold+2, ft.failures(path))
}

func TestFailureTracker_CooldownResetsCount(t *testing.T) {
	t.Parallel()

	ft := newFailureTracker(slog.New(newLogRecorder()))

	now := time.Now()
	ft.nowFunc = func() time.Time { return now }

	path := "data/big.csv"

	for range failureThreshold {
		ft.recordFailure(path, errors.New("disk full"))
	}

	require.Equal(t, failureThreshold, ft.failures(path))

	// Advance past cooldown.
	ft.nowFunc = func() time.Time { return now.Add(failureCooldown + time.Second) }

	assert.Zero(t, ft.failures(path))

	ft.recordFailure(path, errors.New("disk full"))
	assert.Equal(t, 1, ft.failures(path), "count restarts after cooldown")
}

func TestFailureTracker_SuccessClearsRecord(t *testing.T) {
	t.Parallel()

	ft := newFailureTracker(slog.New(newLogRecorder()))

	path := "images/photo.jpg"

	for range failureThreshold {
		ft.recordFailure(path, errors.New("vanished"))
	}

	ft.recordSuccess(path)

	assert.Zero(t, ft.failures(path))
	assert.Zero(t, ft.total())
}

func TestFailureTracker_DifferentPathsIndependent(t *testing.T) {
	t.Parallel()

	ft := newFailureTracker(slog.New(newLogRecorder()))

	for range failureThreshold {
		ft.recordFailure("a/file1.txt", errors.New("error"))
	}

	assert.Equal(t, failureThreshold, ft.failures("a/file1.txt"))
	assert.Zero(t, ft.failures("b/file2.txt"))
	assert.Equal(t, 1, ft.total())
}

func TestFailureTracker_NormalizesUnicode(t *testing.T) {
	t.Parallel()

	ft := newFailureTracker(slog.New(newLogRecorder()))

	// "é" composed vs "e" + combining acute.
	ft.recordFailure("caf\u00e9.txt", errors.New("x"))
	ft.recordFailure("cafe\u0301.txt", errors.New("x"))

	assert.Equal(t, 2, ft.failures("caf\u00e9.txt"))
	assert.Equal(t, 1, ft.total())
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// lockDirPermissions matches the standard directory permissions (owner rwx, group/other rx).
const lockDirPermissions = 0o755

// errWatchLocked means another watcher already mirrors into the same output.
var errWatchLocked = errors.New("another sync --watch is already mirroring into this output")

// acquireWatchLock takes an exclusive, non-blocking lock on path and writes
// the current process ID into it. The returned release function empties the
// file and unlocks it.
func acquireWatchLock(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("lock path is empty, cannot determine data directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating lock directory: %w", mkdirErr)
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if !locked {
		if pid, pidErr := readLockPID(path); pidErr == nil {
			return nil, fmt.Errorf("%w (pid %d holds %s)", errWatchLocked, pid, path)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errWatchLocked, path)
	}

	// flock locks are advisory, so writing through a second descriptor is fine.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		fl.Unlock()

		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	// The file is kept: removing it could unlink an inode that a waiting
	// watcher has just locked. Emptying it clears the stale PID.
	return func() {
		os.Truncate(path, 0)
		fl.Unlock()
	}, nil
}

// readLockPID reads the PID recorded in a lock file.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

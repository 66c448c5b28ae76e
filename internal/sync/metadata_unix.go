//go:build linux || darwin || freebsd

package sync

import (
	"time"

	"golang.org/x/sys/unix"
)

// setLinkTimes sets the access and modification times of the symlink at
// path itself, not of its target.
func setLinkTimes(path string, mtime time.Time) error {
	tv := unix.NsecToTimeval(mtime.UnixNano())
	return unix.Lutimes(path, []unix.Timeval{tv, tv})
}

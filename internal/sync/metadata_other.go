//go:build !linux && !darwin && !freebsd

package sync

import (
	"errors"
	"time"
)

var errLinkTimesUnsupported = errors.New("sync: symlink timestamps not supported on this platform")

func setLinkTimes(string, time.Time) error {
	return errLinkTimesUnsupported
}

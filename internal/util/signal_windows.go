//go:build windows

package util

import (
	"errors"
	"os"
)

var errNoInterrupt = errors.New("interrupt not supported on windows")

// ShutdownSignals lists the signals that stop the service.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// interrupt cannot signal a child on Windows; StopProcess falls through to
// the grace period and then kills. Closing stdin is the graceful path there.
func interrupt(*os.Process) error {
	return errNoInterrupt
}

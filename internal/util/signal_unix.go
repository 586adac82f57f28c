//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals lists the signals that stop the service.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// interrupt asks a capture or encoder child to flush and exit.
func interrupt(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}

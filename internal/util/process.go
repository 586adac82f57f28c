package util

import (
	"log/slog"
	"os"
	"time"
)

// StopProcess interrupts p and waits up to grace for exited to close before
// killing it. It reports whether the kill was needed.
func StopProcess(p *os.Process, exited <-chan struct{}, grace time.Duration) bool {
	if p == nil {
		return false
	}
	if err := interrupt(p); err != nil {
		slog.Debug("interrupt failed", "pid", p.Pid, "error", err)
	}

	select {
	case <-exited:
		return false
	case <-time.After(grace):
	}

	slog.Warn("process did not exit in time, killing", "pid", p.Pid, "grace", grace)
	if err := p.Kill(); err != nil {
		slog.Warn("kill failed", "pid", p.Pid, "error", err)
	}
	<-exited
	return true
}

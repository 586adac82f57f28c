package recording

import (
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// cleanup runs one teardown pass on target. Only one pass runs at a time;
// a call made while another pass is in flight returns false without doing
// anything. A target that is no longer the current session needs no work.
//
// A pass cancels the tick, stops the encoder and waits for it to finalize,
// force-closes it, releases the microphone, clears the accumulator, closes
// the normalizer's scratch space and installs a fresh idle session. The
// target's result is delivered after the pass so the callback may start a
// new session.
func (c *Controller) cleanup(target *session) bool {
	if !c.cleanupInFlight.CompareAndSwap(false, true) {
		c.metrics.RecordCleanup(true)
		slog.Debug("cleanup already in progress")
		return false
	}

	c.mu.Lock()
	if c.sess != target {
		c.mu.Unlock()
		c.cleanupInFlight.Store(false)
		return true
	}
	prev := target.state
	target.state = types.StateCleaningUp
	target.stopping = true
	if target.tickCancel != nil {
		target.tickCancel()
	}
	enc, handle := target.enc, target.handle
	target.enc, target.handle = nil, nil
	skipWait := target.ackTimedOut
	c.mu.Unlock()
	c.metrics.SetState(types.StateCleaningUp)

	if enc != nil {
		if enc.Active() && !skipWait {
			if err := enc.Stop(); err != nil {
				slog.Warn("encoder stop request failed", "session_id", target.id, "error", err)
			}
			if !waitClosed(target.finalized, c.cfg.StopTimeout) {
				slog.Warn("encoder did not acknowledge stop, closing anyway", "session_id", target.id)
				c.metrics.RecordStopAckTimeout()
			}
		}
		util.SafeClose(enc, "encoder")
	}
	c.devices.Release(handle)
	target.acc.Reset()
	target.cancel()
	if err := c.normalizer.Close(); err != nil {
		slog.Warn("failed to close audio processing context", "error", err)
	}
	c.meter.Reset()

	c.mu.Lock()
	c.sess = newSession(nil)
	cancelled := prev != types.StateIdle && target.pending == nil
	c.mu.Unlock()

	c.metrics.SetState(types.StateIdle)
	c.metrics.RecordCleanup(false)
	if cancelled {
		c.metrics.RecordOutcome(Kind(ErrCancelled))
		slog.Info("recording cancelled", "session_id", target.id, "state", prev)
	}
	slog.Debug("cleanup complete", "session_id", target.id, "state", prev)

	c.cleanupInFlight.Store(false)
	target.deliver(c.result(target))
	return true
}

// cleanupCurrent runs a pass on whatever session is current, waiting for
// any pass already in flight.
func (c *Controller) cleanupCurrent() {
	for {
		c.mu.Lock()
		s := c.sess
		c.mu.Unlock()
		if c.cleanup(s) {
			return
		}
		time.Sleep(types.PollInterval)
	}
}

func waitClosed(ch <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handle is an acquired microphone stream. It is valid until released.
type Handle struct {
	stream      Stream
	constraints Constraints
	released    atomic.Bool
	once        sync.Once
}

// PCM returns the captured S16LE buffers.
func (h *Handle) PCM() <-chan []byte {
	return h.stream.PCM()
}

// Constraints returns the parameters the handle was opened with.
func (h *Handle) Constraints() Constraints {
	return h.constraints
}

// Released reports whether Release has been called on the handle.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Session acquires and releases microphone handles on a capture source.
type Session struct {
	source Source
}

// NewSession creates a device session on the given source.
func NewSession(source Source) *Session {
	return &Session{source: source}
}

// Acquire opens the microphone. Failures are reported as ErrPermissionDenied
// or ErrDeviceUnavailable, wrapped with the backend detail.
func (s *Session) Acquire(ctx context.Context, c Constraints) (*Handle, error) {
	stream, err := s.source.Acquire(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyCaptureError(err, "")
	}
	return &Handle{stream: stream, constraints: c}, nil
}

// Release stops every track of the handle. Nil and already released handles
// are ignored.
func (s *Session) Release(h *Handle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.released.Store(true)
		if err := h.stream.Stop(); err != nil {
			slog.Warn("failed to stop capture stream", "error", err)
		}
	})
}

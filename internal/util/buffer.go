package util

import (
	"sync"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
)

// BoundedBuffer keeps the most recent bytes written to it, up to a fixed
// limit. It is safe for concurrent use and is meant for child stderr.
type BoundedBuffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

// NewBoundedBuffer returns a buffer that retains at most limit bytes.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{data: make([]byte, 0, limit), limit: limit}
}

// NewStderrBuffer returns a buffer sized for ffmpeg and arecord diagnostics.
func NewStderrBuffer() *BoundedBuffer {
	return NewBoundedBuffer(ffmpeg.MaxStderrSize)
}

// Write appends p and drops the oldest bytes beyond the limit.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}
	if over := len(b.data) + len(p) - b.limit; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// LastError returns the last meaningful diagnostic line, or fallback when
// the buffer holds none.
func (b *BoundedBuffer) LastError(fallback string) string {
	if msg := ffmpeg.ExtractLastError(b.String()); msg != "" {
		return msg
	}
	return fallback
}

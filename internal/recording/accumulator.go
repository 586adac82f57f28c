// Package recording runs capture sessions from microphone acquisition to a
// finished canonical recording.
package recording

import (
	"bytes"
	"sync"
)

// Accumulator collects encoded segments in emission order.
type Accumulator struct {
	mu       sync.Mutex
	segments [][]byte
	size     int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds a segment. Empty segments are ignored.
func (a *Accumulator) Append(segment []byte) {
	if len(segment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = append(a.segments, segment)
	a.size += len(segment)
}

// Drain returns every segment in order and empties the accumulator.
// It returns ErrNoAudioCaptured when nothing was collected.
func (a *Accumulator) Drain() ([][]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.segments) == 0 {
		return nil, ErrNoAudioCaptured
	}
	out := a.segments
	a.segments = nil
	a.size = 0
	return out, nil
}

// Reset discards all segments.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = nil
	a.size = 0
}

// Len returns the number of segments held.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}

// Size returns the total number of bytes held.
func (a *Accumulator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Assemble concatenates segments into one encoded recording.
func Assemble(segments [][]byte) []byte {
	return bytes.Join(segments, nil)
}

package util

import (
	"errors"
	"io"
)

// SeekBuffer is an in-memory io.WriteSeeker. Writes past the end grow the
// buffer; writes before the end overwrite in place.
type SeekBuffer struct {
	data []byte
	pos  int
}

// Write implements io.Writer at the current position.
func (b *SeekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		if end > cap(b.data) {
			grown := make([]byte, end, max(end, 2*cap(b.data)))
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:end]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("seek: invalid whence")
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}

// Bytes returns the buffer contents. The slice aliases the buffer.
func (b *SeekBuffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes written.
func (b *SeekBuffer) Len() int {
	return len(b.data)
}

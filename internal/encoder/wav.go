package encoder

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// wavFormatPCM is the RIFF audio format tag for integer PCM.
const wavFormatPCM = 1

// WAV encodes PCM into a streaming RIFF/WAVE container in-process.
//
// The header is written with the first audio, so its size fields carry
// placeholders in the emitted stream; consumers patch them once the length
// is known.
type WAV struct {
	opts Options

	mu      sync.Mutex
	out     *util.SeekBuffer
	enc     *wav.Encoder
	format  *audio.Format
	carry   []byte
	frames  int
	emitted int
	running bool
	started bool
	closed  bool

	segments chan []byte
	stopCh   chan struct{}
	closeCh  chan struct{}
	done     chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
}

// NewWAV creates an in-process WAV encoder.
func NewWAV(opts Options) *WAV {
	return &WAV{
		opts:     opts,
		out:      &util.SeekBuffer{},
		format:   &audio.Format{SampleRate: opts.SampleRate, NumChannels: opts.Channels},
		segments: make(chan []byte, segmentBuffer),
		stopCh:   make(chan struct{}),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins segment emission.
func (w *WAV) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.closed {
		return errors.New("wav encoder already used")
	}
	if w.opts.NoiseSuppression {
		slog.Debug("noise suppression not applied to uncompressed capture")
	}
	w.enc = wav.NewEncoder(w.out, w.opts.SampleRate, types.BitDepth, w.opts.Channels, wavFormatPCM)
	w.started = true
	w.running = true

	go w.run()
	return nil
}

// Write appends S16LE PCM. Partial frames are held until completed.
func (w *WAV) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	data := pcm
	if len(w.carry) > 0 {
		data = append(w.carry, pcm...)
		w.carry = nil
	}

	frameBytes := 2 * w.opts.Channels
	whole := len(data) - len(data)%frameBytes
	if whole < len(data) {
		w.carry = append([]byte(nil), data[whole:]...)
	}
	if whole == 0 {
		return nil
	}

	samples := make([]int, whole/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
	}

	buf := &audio.IntBuffer{Format: w.format, Data: samples, SourceBitDepth: types.BitDepth}
	if err := w.enc.Write(buf); err != nil {
		return util.WrapError("write wav samples", err)
	}
	w.frames += whole / frameBytes
	return nil
}

// Segments returns the emitted segments.
func (w *WAV) Segments() <-chan []byte {
	return w.segments
}

// Stop finalizes the container and emits the remaining bytes.
func (w *WAV) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.stopCh)
	})
	return nil
}

// Close abandons the encoder without a final segment.
func (w *WAV) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.running = false
		w.closed = true
		started := w.started
		w.mu.Unlock()
		close(w.closeCh)
		if !started {
			close(w.segments)
			close(w.done)
		}
	})
	return nil
}

// Active reports whether the encoder has started and not yet finished.
func (w *WAV) Active() bool {
	select {
	case <-w.done:
		return false
	default:
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Err always returns nil; the in-process encoder has no external failure mode.
func (w *WAV) Err() error {
	return nil
}

func (w *WAV) run() {
	defer close(w.segments)
	defer close(w.done)

	ticker := time.NewTicker(w.opts.SegmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.emit()
		case <-w.stopCh:
			w.finalize()
			w.emit()
			return
		case <-w.closeCh:
			return
		}
	}
}

// finalize patches the local header. Nothing is written when no audio arrived.
func (w *WAV) finalize() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.frames == 0 {
		return
	}
	if err := w.enc.Close(); err != nil {
		slog.Warn("failed to finalize wav encoder", "error", err)
	}
}

// emit sends the bytes written since the previous segment.
func (w *WAV) emit() {
	w.mu.Lock()
	if w.out.Len() <= w.emitted {
		w.mu.Unlock()
		return
	}
	segment := append([]byte(nil), w.out.Bytes()[w.emitted:]...)
	w.emitted = w.out.Len()
	w.mu.Unlock()

	select {
	case w.segments <- segment:
	case <-w.closeCh:
	}
}

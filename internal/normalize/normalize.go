// Package normalize converts captured recordings into canonical 16-bit PCM WAV.
package normalize

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// ErrUnsupported is returned by a decoder that does not recognise its input.
var ErrUnsupported = errors.New("unsupported audio data")

// AudioBuffer holds decoded audio as per-channel float samples in [-1, 1].
type AudioBuffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b AudioBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Artifact is a finished recording handed to the caller.
type Artifact struct {
	Data []byte
	// Label is the encoding of Data. Canonical artifacts carry format.LabelWAV;
	// fallbacks keep the label they were captured with so downstream
	// consumers know how to decode them.
	Label     format.Label
	Canonical bool
}

// Duration returns the playing time of a canonical artifact, or zero.
func (a *Artifact) Duration() time.Duration {
	if a == nil || !a.Canonical || len(a.Data) < headerSize {
		return 0
	}
	byteRate := binary.LittleEndian.Uint32(a.Data[28:32])
	if byteRate == 0 {
		return 0
	}
	payload := len(a.Data) - headerSize
	return time.Duration(float64(payload) / float64(byteRate) * float64(time.Second))
}

// Normalizer turns encoded recordings into canonical artifacts.
//
// Formats without an in-process decoder are decoded by FFmpeg through a
// scratch directory that is created on first use and removed by Close.
type Normalizer struct {
	tempRoot string

	mu  sync.Mutex
	dir string
}

// New creates a Normalizer. Scratch directories are created under tempRoot,
// or the system temp directory when empty.
func New(tempRoot string) *Normalizer {
	return &Normalizer{tempRoot: tempRoot}
}

// Normalize returns data as canonical WAV. It never fails: when the input
// cannot be decoded the original bytes are returned with Canonical unset.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, label format.Label) *Artifact {
	if label.IsCanonical() {
		return &Artifact{Data: repairHeader(data), Label: format.LabelWAV, Canonical: true}
	}

	buf, err := n.decode(ctx, data, label)
	if err == nil {
		var out []byte
		out, err = EncodeCanonical(buf)
		if err == nil {
			slog.Info("recording normalized",
				"from", label.String(),
				"channels", len(buf.Channels),
				"sample_rate", buf.SampleRate,
				"frames", buf.Frames())
			return &Artifact{Data: out, Label: format.LabelWAV, Canonical: true}
		}
	}

	slog.Warn("conversion failed, delivering original encoding", "format", label.String(), "error", err)
	return &Artifact{Data: data, Label: label, Canonical: false}
}

// decode picks a decoder by sniffing the data and falls back to FFmpeg.
func (n *Normalizer) decode(ctx context.Context, data []byte, label format.Label) (AudioBuffer, error) {
	var (
		buf AudioBuffer
		err = ErrUnsupported
	)
	switch {
	case isRIFF(data):
		buf, err = decodeWAV(data)
	case isOggOpus(data):
		buf, err = decodeOggOpus(data)
	}
	if err == nil {
		return buf, nil
	}
	if !errors.Is(err, ErrUnsupported) {
		slog.Debug("in-process decode failed, trying ffmpeg", "error", err)
	}
	return n.decodeFFmpeg(ctx, data, label)
}

// scratchDir returns the scratch directory, creating it if needed.
func (n *Normalizer) scratchDir() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dir != "" {
		return n.dir, nil
	}
	dir, err := os.MkdirTemp(n.tempRoot, "singcapture-")
	if err != nil {
		return "", util.WrapError("create scratch directory", err)
	}
	n.dir = dir
	return dir, nil
}

// Close removes the scratch directory. The next decode creates a new one.
func (n *Normalizer) Close() error {
	n.mu.Lock()
	dir := n.dir
	n.dir = ""
	n.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return util.WrapError("remove scratch directory", err)
	}
	return nil
}

func isRIFF(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

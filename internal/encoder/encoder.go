// Package encoder turns captured PCM into timed segments of an encoded
// container.
package encoder

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// Encoder consumes PCM and emits encoded segments.
//
// Segments are emitted every segment interval while running and once more
// when the encoder finalizes. The Segments channel is closed after the final
// segment, which is the encoder's acknowledgement that it has stopped.
type Encoder interface {
	Start() error
	Write(pcm []byte) error
	Segments() <-chan []byte
	// Stop asks the encoder to finalize. Writes after Stop are dropped.
	Stop() error
	// Close abandons the encoder and releases its resources immediately.
	Close() error
	Active() bool
	Err() error
}

// Options configures an encoder.
type Options struct {
	SampleRate       int
	Channels         int
	Bitrate          int
	SegmentInterval  time.Duration
	NoiseSuppression bool
}

// DefaultOptions returns mono 44.1 kHz, 128 kbps, one-second segments.
func DefaultOptions() Options {
	return Options{
		SampleRate:       types.SampleRate,
		Channels:         types.Channels,
		Bitrate:          types.EncoderBitrate,
		SegmentInterval:  types.SegmentInterval,
		NoiseSuppression: true,
	}
}

// segmentBuffer is the channel capacity for emitted segments. It covers a
// full-length take so emission never waits on the consumer.
const segmentBuffer = 128

// Factory builds encoders for negotiated labels.
type Factory struct {
	Options Options
}

// New returns the encoder that produces the given label.
func (f Factory) New(label format.Label) (Encoder, error) {
	if label.IsCanonical() {
		return NewWAV(f.Options), nil
	}
	if !label.Known() {
		return nil, fmt.Errorf("no encoder for %s", label)
	}
	if _, err := exec.LookPath(ffmpeg.Binary); err != nil {
		return nil, util.WrapError("locate ffmpeg", err)
	}
	return NewFFmpeg(format.EncodeSpec(label, f.Options.Bitrate), f.Options), nil
}

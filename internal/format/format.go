// Package format selects the encoding label used for a capture session.
package format

import (
	"slices"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
)

// Label is a MIME-style encoding label such as "audio/webm;codecs=opus".
type Label string

// Known labels.
const (
	LabelWAV      Label = "audio/wav"
	LabelWebMPCM  Label = "audio/webm;codecs=pcm"
	LabelWebMOpus Label = "audio/webm;codecs=opus"
	LabelWebM     Label = "audio/webm"
	LabelOggOpus  Label = "audio/ogg;codecs=opus"
	LabelMP4      Label = "audio/mp4"

	// LabelDefault lets the encoder pick its own container and codec.
	LabelDefault Label = ""
)

// Preference is the negotiation order, most preferred first.
var Preference = []Label{
	LabelWAV,
	LabelWebMPCM,
	LabelWebMOpus,
	LabelWebM,
	LabelOggOpus,
	LabelMP4,
}

// Capabilities is the set of labels the capture pipeline can produce.
type Capabilities map[Label]bool

// NewCapabilities returns a capability set containing the given labels.
func NewCapabilities(labels ...Label) Capabilities {
	caps := make(Capabilities, len(labels))
	for _, l := range labels {
		caps[l] = true
	}
	return caps
}

// Supports reports whether the label is in the set.
func (c Capabilities) Supports(l Label) bool {
	return c[l]
}

// Restrict returns the labels present in both c and allowed.
// An empty allow-list leaves c unchanged.
func (c Capabilities) Restrict(allowed []Label) Capabilities {
	if len(allowed) == 0 {
		return c
	}
	out := Capabilities{}
	for l := range c {
		if slices.Contains(allowed, l) {
			out[l] = true
		}
	}
	return out
}

// Labels returns the supported labels in preference order, followed by any
// labels outside Preference in lexical order.
func (c Capabilities) Labels() []Label {
	var out []Label
	for _, l := range Preference {
		if c[l] {
			out = append(out, l)
		}
	}
	var rest []Label
	for l, ok := range c {
		if ok && l != LabelDefault && !slices.Contains(Preference, l) {
			rest = append(rest, l)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

// Negotiate returns the most preferred supported label, then any other
// supported label, or LabelDefault when the set is empty. It never fails.
func Negotiate(caps Capabilities) Label {
	if labels := caps.Labels(); len(labels) > 0 {
		return labels[0]
	}
	return LabelDefault
}

// Known reports whether l is a label this package can map to an encoder.
func (l Label) Known() bool {
	return l == LabelDefault || slices.Contains(Preference, l)
}

// IsCanonical reports whether the label already denotes an uncompressed
// RIFF/WAVE container.
func (l Label) IsCanonical() bool {
	return l == LabelWAV
}

// Container returns the container part of the label ("webm" for
// "audio/webm;codecs=opus").
func (l Label) Container() string {
	switch l {
	case LabelWAV:
		return "wav"
	case LabelWebMPCM, LabelWebMOpus, LabelWebM:
		return "webm"
	case LabelOggOpus:
		return "ogg"
	case LabelMP4:
		return "mp4"
	default:
		return "matroska"
	}
}

// Extension returns the file extension used when the label's data is written
// to disk.
func (l Label) Extension() string {
	switch l {
	case LabelWAV:
		return "wav"
	case LabelWebMPCM, LabelWebMOpus, LabelWebM:
		return "webm"
	case LabelOggOpus:
		return "ogg"
	case LabelMP4:
		return "m4a"
	default:
		return "mka"
	}
}

// String implements fmt.Stringer.
func (l Label) String() string {
	if l == LabelDefault {
		return "default"
	}
	return string(l)
}

// Parse maps a configured label string to a known Label.
func Parse(s string) (Label, bool) {
	if s == "" || s == "default" {
		return LabelDefault, true
	}
	l := Label(s)
	if slices.Contains(Preference, l) {
		return l, true
	}
	return "", false
}

// EncodeSpec returns the FFmpeg muxer and codec that produce the label.
// LabelWAV is encoded in-process and has no FFmpeg spec.
func EncodeSpec(l Label, bitrate int) ffmpeg.EncodeSpec {
	switch l {
	case LabelWebMPCM:
		// WebM does not allow PCM, so the Matroska muxer carries it.
		return ffmpeg.EncodeSpec{Muxer: "matroska", Codec: "pcm_s16le"}
	case LabelWebMOpus:
		return ffmpeg.EncodeSpec{Muxer: "webm", Codec: "libopus", Bitrate: bitrate}
	case LabelWebM:
		return ffmpeg.EncodeSpec{Muxer: "webm", Codec: "libvorbis", Bitrate: bitrate}
	case LabelOggOpus:
		return ffmpeg.EncodeSpec{Muxer: "ogg", Codec: "libopus", Bitrate: bitrate}
	case LabelMP4:
		return ffmpeg.EncodeSpec{
			Muxer:    "mp4",
			Codec:    "aac",
			Bitrate:  bitrate,
			MuxFlags: []string{"-movflags", "frag_keyframe+empty_moov"},
		}
	default:
		return ffmpeg.EncodeSpec{Muxer: "matroska", Codec: "libopus", Bitrate: bitrate}
	}
}

// FromFeatures derives capabilities from an FFmpeg feature probe.
// LabelWAV is always supported because it is produced in-process.
func FromFeatures(f ffmpeg.Features) Capabilities {
	caps := NewCapabilities(LabelWAV)
	for _, l := range Preference {
		if l == LabelWAV {
			continue
		}
		spec := EncodeSpec(l, 0)
		if f.HasMuxer(spec.Muxer) && f.HasEncoder(spec.Codec) {
			caps[l] = true
		}
	}
	return caps
}

package format

import (
	"testing"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want Label
	}{
		{"wav wins", NewCapabilities(LabelWebMOpus, LabelWAV, LabelWebMPCM), LabelWAV},
		{"webm pcm before opus", NewCapabilities(LabelWebMOpus, LabelWebMPCM), LabelWebMPCM},
		{"opus only", NewCapabilities(LabelWebMOpus, LabelMP4), LabelWebMOpus},
		{"plain webm before ogg", NewCapabilities(LabelOggOpus, LabelWebM), LabelWebM},
		{"mp4 last resort", NewCapabilities(LabelMP4), LabelMP4},
		{"nothing supported", Capabilities{}, LabelDefault},
		{"nil set", nil, LabelDefault},
		{"other supported label before default", NewCapabilities(Label("audio/flac")), Label("audio/flac")},
		{"other labels sorted", NewCapabilities(Label("audio/x-matroska"), Label("audio/flac")), Label("audio/flac")},
		{"known label beats others", NewCapabilities(Label("audio/flac"), LabelMP4), LabelMP4},
		{"false entries ignored", Capabilities{LabelWAV: false, LabelMP4: true}, LabelMP4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.caps))
		})
	}
}

func TestNegotiateIsDeterministic(t *testing.T) {
	caps := NewCapabilities(LabelMP4, LabelOggOpus, LabelWebMOpus)
	first := Negotiate(caps)
	for range 50 {
		assert.Equal(t, first, Negotiate(caps))
	}
}

func TestLabelsOrder(t *testing.T) {
	caps := NewCapabilities(Label("audio/x-matroska"), LabelOggOpus, Label("audio/flac"), LabelWAV)
	assert.Equal(t, []Label{LabelWAV, LabelOggOpus, Label("audio/flac"), Label("audio/x-matroska")}, caps.Labels())

	assert.True(t, LabelDefault.Known())
	assert.True(t, LabelMP4.Known())
	assert.False(t, Label("audio/flac").Known())
}

func TestRestrict(t *testing.T) {
	caps := NewCapabilities(LabelWAV, LabelWebMOpus, LabelMP4)

	assert.Equal(t, caps, caps.Restrict(nil))

	restricted := caps.Restrict([]Label{LabelWebMOpus, LabelOggOpus})
	assert.Equal(t, []Label{LabelWebMOpus}, restricted.Labels())
	assert.Equal(t, LabelWebMOpus, Negotiate(restricted))
}

func TestLabelHelpers(t *testing.T) {
	assert.True(t, LabelWAV.IsCanonical())
	assert.False(t, LabelWebMPCM.IsCanonical())
	assert.Equal(t, "webm", LabelWebMOpus.Container())
	assert.Equal(t, "m4a", LabelMP4.Extension())
	assert.Equal(t, "default", LabelDefault.String())

	l, ok := Parse("audio/ogg;codecs=opus")
	assert.True(t, ok)
	assert.Equal(t, LabelOggOpus, l)

	_, ok = Parse("audio/flac")
	assert.False(t, ok)
}

func TestFromFeatures(t *testing.T) {
	features := ffmpeg.Features{
		Muxers:   map[string]bool{"webm": true, "matroska": true},
		Encoders: map[string]bool{"libopus": true, "pcm_s16le": true},
	}

	caps := FromFeatures(features)
	assert.Equal(t, []Label{LabelWAV, LabelWebMPCM, LabelWebMOpus}, caps.Labels())

	assert.Equal(t, []Label{LabelWAV}, FromFeatures(ffmpeg.Features{}).Labels())
}

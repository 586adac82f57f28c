package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractLastError(t *testing.T) {
	assert.Empty(t, ExtractLastError(""))
	assert.Equal(t, "pipe:1: Broken pipe", ExtractLastError("Input #0\npipe:1: Broken pipe\n\n"))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := ExtractLastError(string(long))
	assert.Len(t, got, 203)
	assert.Contains(t, got, "...")
}

func TestBuildEncodeArgs(t *testing.T) {
	args := BuildEncodeArgs(44100, 1, EncodeSpec{
		Muxer:   "webm",
		Codec:   "libopus",
		Bitrate: 128000,
		Filters: []string{"afftdn"},
	})

	assert.Equal(t, []string{
		"-f", "s16le", "-ar", "44100", "-ac", "1",
		"-hide_banner", "-loglevel", "warning", "-i", "pipe:0",
		"-af", "afftdn",
		"-codec:a", "libopus",
		"-b:a", "128000",
		"-f", "webm", "pipe:1",
	}, args)
}

func TestBuildEncodeArgsPCMHasNoBitrate(t *testing.T) {
	args := BuildEncodeArgs(44100, 1, EncodeSpec{Muxer: "matroska", Codec: "pcm_s16le", Bitrate: 128000})
	assert.NotContains(t, args, "-b:a")
}

func TestParseMuxers(t *testing.T) {
	out := `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E 3g2             3GP2 (3GPP2 file format)
  E matroska        Matroska
  E mov,mp4,m4a     QuickTime / MOV
 D  aac             raw ADTS AAC
  E webm            WebM
`
	muxers := ParseMuxers(out)
	assert.True(t, muxers["matroska"])
	assert.True(t, muxers["webm"])
	assert.True(t, muxers["mp4"])
	assert.False(t, muxers["aac"])
	assert.False(t, muxers["Muxing"])
}

func TestParseAudioEncoders(t *testing.T) {
	out := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus
 A....D pcm_s16le            PCM signed 16-bit little-endian
`
	encoders := ParseAudioEncoders(out)
	assert.True(t, encoders["aac"])
	assert.True(t, encoders["libopus"])
	assert.True(t, encoders["pcm_s16le"])
	assert.False(t, encoders["libx264"])
}

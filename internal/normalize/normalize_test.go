package normalize

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadSamples(t *testing.T, data []byte) []int16 {
	t.Helper()
	require.GreaterOrEqual(t, len(data), headerSize)
	payload := data[headerSize:]
	out := make([]int16, len(payload)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return out
}

func TestEncodeCanonicalHeader(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		frames   int
		rate     int
	}{
		{"mono", 1, 441, 44100},
		{"stereo", 2, 100, 48000},
		{"empty", 1, 0, 44100},
		{"six channels", 6, 10, 8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := AudioBuffer{SampleRate: tt.rate, Channels: make([][]float32, tt.channels)}
			for c := range buf.Channels {
				buf.Channels[c] = make([]float32, tt.frames)
			}

			data, err := EncodeCanonical(buf)
			require.NoError(t, err)

			le := binary.LittleEndian
			size := tt.channels * tt.frames * 2
			assert.Len(t, data, headerSize+size)
			assert.Equal(t, "RIFF", string(data[0:4]))
			assert.Equal(t, uint32(len(data)-8), le.Uint32(data[4:8]))
			assert.Equal(t, "WAVE", string(data[8:12]))
			assert.Equal(t, "fmt ", string(data[12:16]))
			assert.Equal(t, uint32(16), le.Uint32(data[16:20]))
			assert.Equal(t, uint16(1), le.Uint16(data[20:22]))
			assert.Equal(t, uint16(tt.channels), le.Uint16(data[22:24]))
			assert.Equal(t, uint32(tt.rate), le.Uint32(data[24:28]))
			assert.Equal(t, uint32(tt.rate*tt.channels*2), le.Uint32(data[28:32]))
			assert.Equal(t, uint16(tt.channels*2), le.Uint16(data[32:34]))
			assert.Equal(t, uint16(16), le.Uint16(data[34:36]))
			assert.Equal(t, "data", string(data[36:40]))
			assert.Equal(t, uint32(size), le.Uint32(data[40:44]))
		})
	}
}

func TestEncodeCanonicalZeros(t *testing.T) {
	buf := AudioBuffer{SampleRate: 44100, Channels: [][]float32{make([]float32, 1000)}}
	data, err := EncodeCanonical(buf)
	require.NoError(t, err)

	for _, s := range payloadSamples(t, data) {
		require.Zero(t, s)
	}
}

func TestEncodeCanonicalScaling(t *testing.T) {
	buf := AudioBuffer{
		SampleRate: 44100,
		Channels:   [][]float32{{1, -1, 2, -3, 0.5, -0.5, 0, 0.00001, -0.00001}},
	}
	data, err := EncodeCanonical(buf)
	require.NoError(t, err)

	assert.Equal(t, []int16{32767, -32768, 32767, -32768, 16383, -16384, 0, 0, 0}, payloadSamples(t, data))
}

func TestEncodeCanonicalInterleaves(t *testing.T) {
	buf := AudioBuffer{
		SampleRate: 44100,
		Channels:   [][]float32{{1, 0}, {-1, 0.5}},
	}
	data, err := EncodeCanonical(buf)
	require.NoError(t, err)

	assert.Equal(t, []int16{32767, -32768, 0, 16383}, payloadSamples(t, data))
	// Little-endian: 32767 is ff 7f.
	assert.Equal(t, []byte{0xff, 0x7f}, data[44:46])
}

func TestEncodeCanonicalRejectsInvalidBuffers(t *testing.T) {
	_, err := EncodeCanonical(AudioBuffer{SampleRate: 44100})
	assert.Error(t, err)

	_, err = EncodeCanonical(AudioBuffer{SampleRate: 0, Channels: [][]float32{{0}}})
	assert.Error(t, err)

	_, err = EncodeCanonical(AudioBuffer{SampleRate: 44100, Channels: [][]float32{{0, 0}, {0}}})
	assert.Error(t, err)
}

func TestNormalizeCanonicalIsUnchanged(t *testing.T) {
	data, err := EncodeCanonical(AudioBuffer{SampleRate: 44100, Channels: [][]float32{{0.1, 0.2, -0.3}}})
	require.NoError(t, err)

	art := New(t.TempDir()).Normalize(context.Background(), data, format.LabelWAV)
	assert.True(t, art.Canonical)
	assert.Equal(t, format.LabelWAV, art.Label)
	assert.Equal(t, data, art.Data)
	assert.Same(t, &data[0], &art.Data[0])
}

func TestNormalizeRepairsStreamedHeader(t *testing.T) {
	data, err := EncodeCanonical(AudioBuffer{SampleRate: 44100, Channels: [][]float32{make([]float32, 100)}})
	require.NoError(t, err)

	streamed := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(streamed[4:8], 0)
	binary.LittleEndian.PutUint32(streamed[40:44], 0)
	streamed = append(streamed, 0x01) // partial frame

	art := New(t.TempDir()).Normalize(context.Background(), streamed, format.LabelWAV)
	assert.True(t, art.Canonical)
	assert.Equal(t, data, art.Data)
	assert.Zero(t, binary.LittleEndian.Uint32(streamed[40:44]), "input must not be modified")
}

func TestNormalizeDecodesOtherWAV(t *testing.T) {
	src, err := EncodeCanonical(AudioBuffer{SampleRate: 22050, Channels: [][]float32{{0.5, -0.5}, {0, 1}}})
	require.NoError(t, err)

	// A WAV arriving under a container label is still decoded in-process.
	art := New(t.TempDir()).Normalize(context.Background(), src, format.LabelWebMPCM)
	require.True(t, art.Canonical)
	assert.Equal(t, format.LabelWAV, art.Label)
	assert.Equal(t, uint32(22050), binary.LittleEndian.Uint32(art.Data[24:28]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(art.Data[22:24]))
	assert.Len(t, art.Data, headerSize+8)
}

func TestNormalizeFallsBackToOriginal(t *testing.T) {
	garbage := []byte("definitely not audio")

	n := New(t.TempDir())
	defer n.Close()

	art := n.Normalize(context.Background(), garbage, format.LabelWebMOpus)
	assert.False(t, art.Canonical)
	assert.Equal(t, format.LabelWebMOpus, art.Label)
	assert.Equal(t, garbage, art.Data)
}

func TestNormalizeWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	dir := t.TempDir()
	src := dir + "/tone.ogg"
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi",
		"-i", "sine=frequency=440:duration=0.5", "-ac", "1", "-codec:a", "libvorbis", "-y", src)
	if err := cmd.Run(); err != nil {
		t.Skipf("ffmpeg cannot encode vorbis: %v", err)
	}
	data, err := os.ReadFile(src)
	require.NoError(t, err)

	n := New(dir)
	art := n.Normalize(context.Background(), data, format.LabelWebM)
	require.True(t, art.Canonical)
	assert.InDelta(t, 0.5, art.Duration().Seconds(), 0.1)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}

func TestCloseRemovesScratchDir(t *testing.T) {
	n := New(t.TempDir())
	dir, err := n.scratchDir()
	require.NoError(t, err)
	assert.DirExists(t, dir)

	again, err := n.scratchDir()
	require.NoError(t, err)
	assert.Equal(t, dir, again)

	require.NoError(t, n.Close())
	assert.NoDirExists(t, dir)
}

func TestParseFloatWAV(t *testing.T) {
	le := binary.LittleEndian
	samples := []float32{0.25, -0.75, 1, 0}

	data := []byte("RIFF\x00\x00\x00\x00WAVE")
	fmtChunk := make([]byte, 8+16)
	copy(fmtChunk, "fmt ")
	le.PutUint32(fmtChunk[4:], 16)
	le.PutUint16(fmtChunk[8:], formatFloat)
	le.PutUint16(fmtChunk[10:], 2)
	le.PutUint32(fmtChunk[12:], 48000)
	le.PutUint32(fmtChunk[16:], 48000*8)
	le.PutUint16(fmtChunk[20:], 8)
	le.PutUint16(fmtChunk[22:], 32)
	data = append(data, fmtChunk...)
	data = append(data, []byte("LIST\x02\x00\x00\x00ab")...)
	data = append(data, []byte("data")...)
	data = le.AppendUint32(data, uint32(4*len(samples)))
	for _, s := range samples {
		data = le.AppendUint32(data, math.Float32bits(s))
	}

	buf, err := parseFloatWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 48000, buf.SampleRate)
	assert.Equal(t, [][]float32{{0.25, 1}, {-0.75, 0}}, buf.Channels)
}

func TestArtifactDuration(t *testing.T) {
	data, err := EncodeCanonical(AudioBuffer{SampleRate: 44100, Channels: [][]float32{make([]float32, 44100)}})
	require.NoError(t, err)

	art := &Artifact{Data: data, Label: format.LabelWAV, Canonical: true}
	assert.Equal(t, time.Second, art.Duration())

	var nilArt *Artifact
	assert.Zero(t, nilArt.Duration())
	assert.Zero(t, (&Artifact{Data: data}).Duration())
}

func TestOpusChannels(t *testing.T) {
	head := append([]byte("OggS....OpusHead"), 1, 2, 0, 0)
	assert.Equal(t, 2, opusChannels(head))
	assert.True(t, isOggOpus(head))
	assert.Zero(t, opusChannels([]byte("OggS")))
	assert.False(t, isOggOpus([]byte("RIFF....OpusHead")))
}

// oggOpusTone encodes a 440 Hz tone as Ogg Opus, skipping the test when the
// local ffmpeg has no libopus.
func oggOpusTone(t *testing.T, seconds float64, channels int) []byte {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	src := t.TempDir() + "/tone.opus"
	cmd := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:duration=%g", seconds),
		"-ac", strconv.Itoa(channels), "-c:a", "libopus", "-f", "ogg", "-y", src)
	if err := cmd.Run(); err != nil {
		t.Skipf("ffmpeg cannot encode opus: %v", err)
	}
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	return data
}

func TestDecodeOggOpus(t *testing.T) {
	for _, channels := range []int{1, 2} {
		t.Run(strconv.Itoa(channels), func(t *testing.T) {
			data := oggOpusTone(t, 1, channels)
			require.True(t, isOggOpus(data))
			require.Equal(t, channels, opusChannels(data))

			buf, err := decodeOggOpus(data)
			require.NoError(t, err)
			assert.Equal(t, opusSampleRate, buf.SampleRate)
			require.Len(t, buf.Channels, channels)
			assert.InDelta(t, opusSampleRate, buf.Frames(), 0.05*opusSampleRate)

			var peak float32
			for _, s := range buf.Channels[0] {
				peak = max(peak, s, -s)
			}
			assert.Greater(t, peak, float32(0.05), "decoded tone is silent")
		})
	}
}

func TestNormalizeOggOpus(t *testing.T) {
	data := oggOpusTone(t, 1, 2)

	n := New(t.TempDir())
	defer func() { require.NoError(t, n.Close()) }()
	art := n.Normalize(context.Background(), data, format.LabelOggOpus)

	require.True(t, art.Canonical)
	assert.Equal(t, format.LabelWAV, art.Label)
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(art.Data[22:24]))
	assert.Equal(t, uint32(opusSampleRate), binary.LittleEndian.Uint32(art.Data[24:28]))
	assert.InDelta(t, 1.0, art.Duration().Seconds(), 0.05)
}

func TestDecodeOggOpusRejectsUnsupportedChannels(t *testing.T) {
	head := append([]byte("OggS....OpusHead"), 1, 9, 0, 0)
	_, err := decodeOggOpus(head)
	require.Error(t, err)
}

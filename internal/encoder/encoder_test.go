package encoder

import (
	"bytes"
	"encoding/binary"
	"os/exec"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(interval time.Duration) Options {
	opts := DefaultOptions()
	opts.SegmentInterval = interval
	return opts
}

func collect(t *testing.T, enc Encoder) [][]byte {
	t.Helper()
	var segments [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case seg, ok := <-enc.Segments():
			if !ok {
				return segments
			}
			segments = append(segments, seg)
		case <-timeout:
			t.Fatal("encoder did not finish")
		}
	}
}

func TestWAVEncoderEmitsHeaderAndSamples(t *testing.T) {
	enc := NewWAV(testOptions(time.Hour))
	require.NoError(t, enc.Start())
	assert.True(t, enc.Active())

	pcm := make([]byte, 44100*2)
	for range 5 {
		require.NoError(t, enc.Write(pcm))
	}
	require.NoError(t, enc.Stop())

	segments := collect(t, enc)
	require.Len(t, segments, 1)

	data := segments[0]
	assert.Len(t, data, 44+5*44100*2)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]))
	assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.False(t, enc.Active())
	assert.NoError(t, enc.Err())
}

func TestWAVEncoderSegmentsInOrder(t *testing.T) {
	enc := NewWAV(testOptions(5 * time.Millisecond))
	require.NoError(t, enc.Start())

	var written bytes.Buffer
	for i := range 4 {
		chunk := bytes.Repeat([]byte{byte(i + 1), 0}, 1000)
		written.Write(chunk)
		require.NoError(t, enc.Write(chunk))
		time.Sleep(15 * time.Millisecond)
	}
	require.NoError(t, enc.Stop())

	segments := collect(t, enc)
	assert.GreaterOrEqual(t, len(segments), 2)

	joined := bytes.Join(segments, nil)
	assert.Equal(t, written.Bytes(), joined[44:])
}

func TestWAVEncoderHoldsPartialFrames(t *testing.T) {
	enc := NewWAV(testOptions(time.Hour))
	require.NoError(t, enc.Start())

	require.NoError(t, enc.Write([]byte{1}))
	require.NoError(t, enc.Write([]byte{0, 2, 0}))
	require.NoError(t, enc.Stop())

	segments := collect(t, enc)
	require.Len(t, segments, 1)
	assert.Equal(t, []byte{1, 0, 2, 0}, segments[0][44:])
}

func TestWAVEncoderNoAudioEmitsNothing(t *testing.T) {
	enc := NewWAV(testOptions(time.Millisecond))
	require.NoError(t, enc.Start())
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, enc.Stop())

	assert.Empty(t, collect(t, enc))
}

func TestWAVEncoderWritesAfterStopAreDropped(t *testing.T) {
	enc := NewWAV(testOptions(time.Hour))
	require.NoError(t, enc.Start())
	require.NoError(t, enc.Write([]byte{1, 0}))
	require.NoError(t, enc.Stop())
	require.NoError(t, enc.Write([]byte{9, 9}))

	segments := collect(t, enc)
	require.Len(t, segments, 1)
	assert.Len(t, segments[0], 46)
}

func TestWAVEncoderClose(t *testing.T) {
	enc := NewWAV(testOptions(time.Hour))
	require.NoError(t, enc.Start())
	require.NoError(t, enc.Write([]byte{1, 0}))
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	assert.Empty(t, collect(t, enc))
	assert.False(t, enc.Active())
	assert.Error(t, enc.Start())
}

func TestCloseBeforeStart(t *testing.T) {
	enc := NewWAV(DefaultOptions())
	require.NoError(t, enc.Close())
	assert.Empty(t, collect(t, enc))
}

func TestFactory(t *testing.T) {
	f := Factory{Options: DefaultOptions()}

	enc, err := f.New(format.LabelWAV)
	require.NoError(t, err)
	assert.IsType(t, &WAV{}, enc)

	_, err = f.New(format.Label("audio/flac"))
	require.EqualError(t, err, "no encoder for audio/flac")

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		_, err := f.New(format.LabelWebMOpus)
		assert.Error(t, err)
		return
	}
	enc, err = f.New(format.LabelWebMOpus)
	require.NoError(t, err)
	assert.IsType(t, &FFmpeg{}, enc)
}

func TestFFmpegArgs(t *testing.T) {
	enc := NewFFmpeg(format.EncodeSpec(format.LabelOggOpus, 128000), DefaultOptions())
	args := enc.Args()

	assert.Contains(t, args, "afftdn")
	assert.Contains(t, args, "libopus")
	assert.Equal(t, []string{"-f", "ogg", "pipe:1"}, args[len(args)-3:])
}

func TestFFmpegEncoderProducesContainer(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	opts := testOptions(50 * time.Millisecond)
	opts.NoiseSuppression = false
	enc := NewFFmpeg(format.EncodeSpec(format.LabelWebMPCM, 0), opts)
	require.NoError(t, enc.Start())

	require.NoError(t, enc.Write(make([]byte, 44100*2)))
	require.NoError(t, enc.Stop())

	segments := collect(t, enc)
	require.NotEmpty(t, segments)
	// Matroska EBML magic.
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, segments[0][:4])
	assert.NoError(t, enc.Err())
}

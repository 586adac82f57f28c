package normalize

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

const (
	headerSize    = 44
	bitDepth      = 16
	formatPCM     = 1
	formatFloat   = 3
	formatExtType = 0xFFFE
)

// EncodeCanonical writes buf as a 44-byte-header 16-bit PCM WAV with
// interleaved little-endian samples.
func EncodeCanonical(buf AudioBuffer) ([]byte, error) {
	channels := len(buf.Channels)
	if channels == 0 {
		return nil, errors.New("audio buffer has no channels")
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", buf.SampleRate)
	}
	frames := buf.Frames()
	for i, ch := range buf.Channels {
		if len(ch) != frames {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", i, len(ch), frames)
		}
	}

	samples := make([]int, frames*channels)
	for f := range frames {
		for c, ch := range buf.Channels {
			samples[f*channels+c] = toPCM16(ch[f])
		}
	}

	out := &util.SeekBuffer{}
	enc := wav.NewEncoder(out, buf.SampleRate, bitDepth, channels, formatPCM)
	ib := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: buf.SampleRate, NumChannels: channels},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(ib); err != nil {
		return nil, util.WrapError("write wav payload", err)
	}
	if err := enc.Close(); err != nil {
		return nil, util.WrapError("finalize wav header", err)
	}
	return out.Bytes(), nil
}

// toPCM16 clamps s to [-1, 1] and scales it to int16, truncating toward zero.
// Negative values scale by 32768 and the rest by 32767 so +1.0 does not overflow.
func toPCM16(s float32) int {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int(v * 32768)
	}
	return int(v * 32767)
}

// repairHeader returns data unchanged when its 44-byte PCM header agrees with
// its length. A streamed header whose size fields are placeholders is patched
// in a copy; a trailing partial frame is dropped. Anything else is returned
// as is.
func repairHeader(data []byte) []byte {
	if !hasCanonicalLayout(data) {
		return data
	}
	blockAlign := int(binary.LittleEndian.Uint16(data[32:34]))
	payload := len(data) - headerSize
	payload -= payload % blockAlign

	riffSize := binary.LittleEndian.Uint32(data[4:8])
	dataSize := binary.LittleEndian.Uint32(data[40:44])
	if payload == len(data)-headerSize && int(riffSize) == len(data)-8 && int(dataSize) == payload {
		return data
	}

	fixed := bytes.Clone(data[:headerSize+payload])
	binary.LittleEndian.PutUint32(fixed[4:8], uint32(len(fixed)-8))
	binary.LittleEndian.PutUint32(fixed[40:44], uint32(payload))
	return fixed
}

// hasCanonicalLayout reports whether data starts with the fixed 44-byte
// 16-bit PCM header.
func hasCanonicalLayout(data []byte) bool {
	if len(data) < headerSize || !isRIFF(data) {
		return false
	}
	le := binary.LittleEndian
	return bytes.Equal(data[12:16], []byte("fmt ")) &&
		le.Uint32(data[16:20]) == 16 &&
		le.Uint16(data[20:22]) == formatPCM &&
		le.Uint16(data[22:24]) > 0 &&
		le.Uint16(data[32:34]) > 0 &&
		le.Uint16(data[34:36]) == bitDepth &&
		bytes.Equal(data[36:40], []byte("data"))
}

// decodeWAV decodes integer PCM WAV of any bit depth.
func decodeWAV(data []byte) (AudioBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return AudioBuffer{}, errors.New("invalid wav file")
	}
	if dec.WavAudioFormat != formatPCM {
		return AudioBuffer{}, fmt.Errorf("wav audio format %d: %w", dec.WavAudioFormat, ErrUnsupported)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return AudioBuffer{}, util.WrapError("read wav samples", err)
	}

	channels := int(dec.NumChans)
	if channels == 0 {
		return AudioBuffer{}, errors.New("wav has no channels")
	}
	depth := int(dec.BitDepth)
	offset := 0.0
	if depth == 8 {
		// 8-bit WAV samples are unsigned.
		offset = 128
	}
	scale := math.Ldexp(1, depth-1)

	frames := len(pcm.Data) / channels
	buf := AudioBuffer{SampleRate: int(dec.SampleRate), Channels: make([][]float32, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for f := range frames {
		for c := range channels {
			buf.Channels[c][f] = float32((float64(pcm.Data[f*channels+c]) - offset) / scale)
		}
	}
	return buf, nil
}

// parseFloatWAV reads a 32-bit float WAV as written by FFmpeg's pcm_f32le
// encoder.
func parseFloatWAV(data []byte) (AudioBuffer, error) {
	if !isRIFF(data) {
		return AudioBuffer{}, errors.New("not a RIFF/WAVE file")
	}
	le := binary.LittleEndian

	var (
		channels, sampleRate int
		haveFmt              bool
		payload              []byte
	)
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(le.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body+size > len(data) {
			// Unpatched streaming sizes run to the end of the file.
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return AudioBuffer{}, errors.New("short fmt chunk")
			}
			tag := le.Uint16(data[body : body+2])
			if tag != formatFloat && tag != formatExtType {
				return AudioBuffer{}, fmt.Errorf("wav audio format %d is not float", tag)
			}
			if bits := le.Uint16(data[body+14 : body+16]); bits != 32 {
				return AudioBuffer{}, fmt.Errorf("float wav with %d bits per sample", bits)
			}
			channels = int(le.Uint16(data[body+2 : body+4]))
			sampleRate = int(le.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			payload = data[body : body+size]
		}
		pos = body + size + size%2
	}

	if !haveFmt || channels == 0 || sampleRate == 0 {
		return AudioBuffer{}, errors.New("missing fmt chunk")
	}
	if payload == nil {
		return AudioBuffer{}, errors.New("missing data chunk")
	}

	frames := len(payload) / (4 * channels)
	buf := AudioBuffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for f := range frames {
		for c := range channels {
			off := 4 * (f*channels + c)
			buf.Channels[c][f] = math.Float32frombits(le.Uint32(payload[off:]))
		}
	}
	return buf, nil
}

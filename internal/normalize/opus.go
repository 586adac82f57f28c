package normalize

import (
	"bytes"
	"errors"
	"io"

	"github.com/oszuidwest/zwfm-singcapture/internal/util"
	"gopkg.in/hraban/opus.v2"
)

const (
	// opusSampleRate is the rate libopusfile always decodes at.
	opusSampleRate = 48000
	// opusMaxFrame is 120 ms at 48 kHz, the largest Opus frame.
	opusMaxFrame = 5760
)

var opusHead = []byte("OpusHead")

func isOggOpus(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[0:4], []byte("OggS")) && bytes.Contains(data, opusHead)
}

// opusChannels reads the output channel count from the OpusHead packet.
func opusChannels(data []byte) int {
	i := bytes.Index(data, opusHead)
	if i < 0 || i+9 >= len(data) {
		return 0
	}
	return int(data[i+9])
}

// decodeOggOpus decodes an Ogg Opus stream to 48 kHz float samples.
func decodeOggOpus(data []byte) (AudioBuffer, error) {
	channels := opusChannels(data)
	if channels < 1 || channels > 2 {
		return AudioBuffer{}, errors.New("unsupported opus channel count")
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return AudioBuffer{}, util.WrapError("open opus stream", err)
	}
	defer util.SafeCloseFunc(stream, "opus stream")()

	buf := AudioBuffer{SampleRate: opusSampleRate, Channels: make([][]float32, channels)}
	pcm := make([]float32, opusMaxFrame*channels)
	for {
		n, err := stream.ReadFloat32(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return AudioBuffer{}, util.WrapError("decode opus", err)
		}
		for f := range n {
			for c := range channels {
				buf.Channels[c] = append(buf.Channels[c], pcm[f*channels+c])
			}
		}
	}
	if buf.Frames() == 0 {
		return AudioBuffer{}, errors.New("opus stream has no audio")
	}
	return buf, nil
}

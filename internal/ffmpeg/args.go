// Package ffmpeg provides shared FFmpeg utilities and constants.
package ffmpeg

import (
	"bytes"
	"strconv"
	"strings"
)

// MaxStderrSize limits the stderr buffer to prevent memory exhaustion.
const MaxStderrSize = 64 * 1024 // 64KB

// Binary is the FFmpeg executable looked up on PATH.
const Binary = "ffmpeg"

// ExtractLastError extracts the last meaningful error line from FFmpeg stderr.
// Returns empty string if no meaningful error found.
func ExtractLastError(stderr string) string {
	if stderr == "" {
		return ""
	}
	lines := bytes.Split([]byte(stderr), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := string(bytes.TrimSpace(lines[i]))
		if line != "" {
			if len(line) > 200 {
				return line[:200] + "..."
			}
			return line
		}
	}
	return ""
}

// PCMInputArgs returns the FFmpeg arguments for raw S16LE input from stdin.
func PCMInputArgs(sampleRate, channels int) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-hide_banner",
		"-loglevel", "warning",
		"-i", "pipe:0",
	}
}

// EncodeSpec describes how a container/codec pair is produced.
type EncodeSpec struct {
	Muxer    string
	Codec    string
	Bitrate  int
	Filters  []string
	MuxFlags []string
}

// BuildEncodeArgs constructs FFmpeg arguments that read PCM from stdin and
// write the encoded container to stdout.
//
//nolint:gocritic // hugeParam: EncodeSpec is small and built once per session
func BuildEncodeArgs(sampleRate, channels int, spec EncodeSpec) []string {
	args := PCMInputArgs(sampleRate, channels)
	if len(spec.Filters) > 0 {
		args = append(args, "-af", strings.Join(spec.Filters, ","))
	}
	args = append(args, "-codec:a", spec.Codec)
	if spec.Bitrate > 0 && spec.Codec != "pcm_s16le" {
		args = append(args, "-b:a", strconv.Itoa(spec.Bitrate))
	}
	args = append(args, spec.MuxFlags...)
	args = append(args, "-f", spec.Muxer, "pipe:1")
	return args
}

// BuildDecodeArgs returns arguments that decode any input file to a
// 32-bit float WAV file, keeping the source sample rate and channel count.
func BuildDecodeArgs(input, output string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", input,
		"-vn",
		"-codec:a", "pcm_f32le",
		"-f", "wav",
		"-y", output,
	}
}

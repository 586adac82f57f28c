package ffmpeg

import (
	"bufio"
	"context"
	"os/exec"
	"strings"
)

// Features lists the muxers and encoders an FFmpeg build reports.
type Features struct {
	Muxers   map[string]bool
	Encoders map[string]bool
}

// HasMuxer reports whether the named output format is available.
func (f Features) HasMuxer(name string) bool {
	return f.Muxers[name]
}

// HasEncoder reports whether the named audio encoder is available.
func (f Features) HasEncoder(name string) bool {
	return f.Encoders[name]
}

// Probe queries the local FFmpeg binary for its muxers and audio encoders.
// A missing binary yields empty features and the lookup error.
func Probe(ctx context.Context) (Features, error) {
	features := Features{Muxers: map[string]bool{}, Encoders: map[string]bool{}}

	if _, err := exec.LookPath(Binary); err != nil {
		return features, err
	}

	out, err := exec.CommandContext(ctx, Binary, "-hide_banner", "-muxers").Output()
	if err != nil {
		return features, err
	}
	features.Muxers = ParseMuxers(string(out))

	out, err = exec.CommandContext(ctx, Binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return features, err
	}
	features.Encoders = ParseAudioEncoders(string(out))

	return features, nil
}

// ParseMuxers extracts muxer names from `ffmpeg -muxers` output.
// Lines look like " E  webm            WebM".
func ParseMuxers(output string) map[string]bool {
	muxers := map[string]bool{}
	inList := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.Contains(fields[0], "E") {
			continue
		}
		for name := range strings.SplitSeq(fields[1], ",") {
			muxers[name] = true
		}
	}
	return muxers
}

// ParseAudioEncoders extracts audio encoder names from `ffmpeg -encoders`
// output. Lines look like " A....D libopus        libopus Opus".
func ParseAudioEncoders(output string) map[string]bool {
	encoders := map[string]bool{}
	inList := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "------" {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "A") {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

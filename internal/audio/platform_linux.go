//go:build linux

package audio

import (
	"regexp"
	"strconv"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// arecord reads ALSA directly; no ffmpeg is needed to capture on Linux.
var platform = platformCapture{
	command:       "arecord",
	defaultDevice: "default",
	args: func(device string, sampleRate, channels int) []string {
		return []string{
			"-D", device,
			"-f", "S16_LE",
			"-r", strconv.Itoa(sampleRate),
			"-c", strconv.Itoa(channels),
			"-t", "raw",
			"-q",
			"-",
		}
	},
	listing: deviceListing{
		command: []string{"arecord", "-l"},
		pattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		device: func(m []string) (types.AudioDevice, bool) {
			return types.AudioDevice{ID: "plughw:CARD=" + m[2], Name: m[3]}, true
		},
		fallback: []types.AudioDevice{{ID: "default", Name: "System default"}},
	},
}

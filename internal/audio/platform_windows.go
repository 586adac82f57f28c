//go:build windows

package audio

import (
	"regexp"
	"strings"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// DirectShow has no stable default input; BuildCaptureCommand picks the
// first listed device.
var platform = platformCapture{
	command: "ffmpeg",
	args: func(device string, sampleRate, channels int) []string {
		return ffmpegCaptureArgs("dshow", device, sampleRate, channels)
	},
	listing: deviceListing{
		command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		start:   "DirectShow audio devices",
		stop:    "DirectShow video devices",
		pattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"`),
		device: func(m []string) (types.AudioDevice, bool) {
			name := strings.TrimSpace(m[1])
			return types.AudioDevice{ID: "audio=" + name, Name: name}, name != ""
		},
	},
}

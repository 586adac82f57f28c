//go:build darwin

package audio

import (
	"regexp"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

var platform = platformCapture{
	command:       "ffmpeg",
	defaultDevice: ":0",
	args: func(device string, sampleRate, channels int) []string {
		return ffmpegCaptureArgs("avfoundation", device, sampleRate, channels)
	},
	listing: deviceListing{
		command: []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		start:   "AVFoundation audio devices:",
		stop:    "AVFoundation video devices:",
		pattern: regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		device: func(m []string) (types.AudioDevice, bool) {
			return types.AudioDevice{ID: ":" + m[1], Name: m[2]}, true
		},
	},
}

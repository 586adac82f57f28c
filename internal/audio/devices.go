package audio

import (
	"context"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

const listTimeout = 5 * time.Second

// deviceListing describes how to enumerate input devices from the output of
// a listing command.
type deviceListing struct {
	command []string
	// Lines between start and stop are scanned. An empty start scans all.
	start, stop string
	pattern     *regexp.Regexp
	device      func(match []string) (types.AudioDevice, bool)
	fallback    []types.AudioDevice
}

// ListDevices returns the input devices of this host, or the platform
// fallback when enumeration fails.
func ListDevices() []types.AudioDevice {
	l := platform.listing
	if len(l.command) == 0 {
		return l.fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()

	// ffmpeg -list_devices exits non-zero by design, so only empty output
	// counts as a failure.
	out, err := exec.CommandContext(ctx, l.command[0], l.command[1:]...).CombinedOutput()
	if err != nil && len(out) == 0 {
		slog.Error("failed to list audio devices", "command", l.command[0], "error", err)
		return l.fallback
	}
	return l.scan(string(out))
}

func (l deviceListing) scan(output string) []types.AudioDevice {
	var devices []types.AudioDevice
	inside := l.start == ""
	for line := range strings.Lines(output) {
		switch {
		case l.start != "" && strings.Contains(line, l.start):
			inside = true
			continue
		case l.stop != "" && strings.Contains(line, l.stop):
			inside = false
			continue
		case !inside, strings.Contains(line, "Alternative name"):
			continue
		}
		m := l.pattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
		if m == nil {
			continue
		}
		if d, ok := l.device(m); ok {
			devices = append(devices, d)
		}
	}
	if len(devices) == 0 {
		return l.fallback
	}
	return devices
}

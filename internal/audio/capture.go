// Package audio provides microphone capture, device enumeration, and level metering.
package audio

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

var (
	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device can be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrNoAudioDevice is returned when no audio input device is available.
	ErrNoAudioDevice = fmt.Errorf("%w: no audio input device found", ErrDeviceUnavailable)
)

// Constraints describe the requested capture parameters.
type Constraints struct {
	Device           string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints returns mono 44.1 kHz capture with processing requested.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       types.SampleRate,
		Channels:         types.Channels,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Stream is a live capture delivering S16LE PCM.
type Stream interface {
	// PCM returns the channel of captured buffers. It is closed when the
	// stream ends for any reason.
	PCM() <-chan []byte
	// Stop ends the capture. It is safe to call more than once.
	Stop() error
}

// Source opens capture streams on a particular backend.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// DeviceLister is implemented by sources that can enumerate input devices.
type DeviceLister interface {
	Devices() ([]types.AudioDevice, error)
}

// platformCapture describes the capture command of one operating system.
type platformCapture struct {
	command       string
	defaultDevice string
	args          func(device string, sampleRate, channels int) []string
	listing       deviceListing
}

// ffmpegCaptureArgs reads device through the given ffmpeg input format and
// writes raw S16LE to stdout.
func ffmpegCaptureArgs(inputFormat, device string, sampleRate, channels int) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	}
}

// BuildCaptureCommand returns the capture command for device. An empty
// device selects the platform default, or the first listed device where
// the platform has none.
func BuildCaptureCommand(device string, sampleRate, channels int) (string, []string, error) {
	device = cmp.Or(device, platform.defaultDevice)
	if device == "" {
		devices := ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}
	return platform.command, platform.args(device, sampleRate, channels), nil
}

var permissionMarkers = []string{
	"permission denied",
	"access denied",
	"not authorized",
	"not permitted",
	"notallowederror",
}

// classifyCaptureError maps a backend failure onto ErrPermissionDenied or
// ErrDeviceUnavailable, keeping the backend detail in the message.
func classifyCaptureError(err error, stderr string) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}

	detail := ffmpeg.ExtractLastError(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}

	haystack := strings.ToLower(stderr)
	if err != nil {
		haystack += " " + strings.ToLower(err.Error())
	}
	for _, marker := range permissionMarkers {
		if strings.Contains(haystack, marker) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, detail)
		}
	}
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, detail)
}

package recording

import (
	"errors"

	"github.com/oszuidwest/zwfm-singcapture/internal/audio"
)

// Session failures reported through the completion callback.
var (
	ErrPermissionDenied  = audio.ErrPermissionDenied
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable

	// ErrNoAudioCaptured means the session stopped before any segment was emitted.
	ErrNoAudioCaptured = errors.New("no audio captured")

	// ErrStopTimeout means the encoder did not finalize within the stop timeout.
	ErrStopTimeout = errors.New("encoder did not finalize in time")

	// ErrRecorderFault means the encoder or capture stream failed mid-session.
	ErrRecorderFault = errors.New("recorder fault")

	// ErrCancelled means the session was torn down before it produced a result.
	ErrCancelled = errors.New("recording cancelled")
)

// UserMessage returns the sentence shown to the singer for a session failure.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "I need microphone access to help analyze your singing. " +
			"Please allow microphone access in your system settings and try again."
	case errors.Is(err, ErrDeviceUnavailable):
		return err.Error()
	case errors.Is(err, ErrNoAudioCaptured):
		return "I didn't catch any audio. Please make sure your microphone is working and try recording again."
	case errors.Is(err, ErrStopTimeout):
		return "The recording did not finish properly. Please try again."
	case errors.Is(err, ErrCancelled):
		return "The recording was cancelled."
	default:
		return "There was an issue with the recording. Please check your microphone and try again."
	}
}

// Kind returns a short stable name for a session failure, used in metrics
// and notifications.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrNoAudioCaptured):
		return "no_audio_captured"
	case errors.Is(err, ErrStopTimeout):
		return "stop_timeout"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	default:
		return "recorder_fault"
	}
}

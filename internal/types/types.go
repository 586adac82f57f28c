// Package types provides shared type definitions used across the capture service.
package types

import "time"

// SessionState represents the lifecycle state of a capture session.
type SessionState string

const (
	// StateIdle indicates no capture is in progress.
	StateIdle SessionState = "idle"
	// StateAcquiring indicates the microphone is being opened.
	StateAcquiring SessionState = "acquiring"
	// StateRecording indicates audio is being captured and encoded.
	StateRecording SessionState = "recording"
	// StateStopping indicates the encoder is finalizing.
	StateStopping SessionState = "stopping"
	// StateConverting indicates the recording is being normalized.
	StateConverting SessionState = "converting"
	// StateCleaningUp indicates resources are being released.
	StateCleaningUp SessionState = "cleaning_up"
)

// Capture defaults.
const (
	SampleRate      = 44100
	Channels        = 1
	BitDepth        = 16
	EncoderBitrate  = 128000
	MaxDuration     = 60 * time.Second
	SegmentInterval = 1 * time.Second
	StopTimeout     = 3 * time.Second
	SettleDelay     = 200 * time.Millisecond
)

// Shutdown settings.
const (
	ShutdownTimeout = 3 * time.Second       // Time to wait for graceful shutdown before SIGKILL
	PollInterval    = 50 * time.Millisecond // Interval for polling process state
)

// Retry settings for the analysis upload.
const (
	InitialRetryDelay = 1 * time.Second
	MaxRetryDelay     = 10 * time.Second
)

// PermissionState mirrors the browser microphone permission model.
type PermissionState string

const (
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// AudioDevice represents an audio input device.
type AudioDevice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CaptureStatus contains a summary of the capture controller's current state.
type CaptureStatus struct {
	State       SessionState    `json:"state"`
	SessionID   string          `json:"session_id,omitzero"`
	Elapsed     int             `json:"elapsed"`
	MaxDuration int             `json:"max_duration"`
	Format      string          `json:"format,omitzero"`
	Segments    int             `json:"segments,omitzero"`
	Permission  PermissionState `json:"permission"`
	LastError   string          `json:"last_error,omitzero"`
}

// AudioLevels contains current mono input level measurements.
type AudioLevels struct {
	Level         float64 `json:"level"`                   // RMS level in dB (-60 to 0)
	Peak          float64 `json:"peak"`                    // Peak level in dB
	PeakHold      float64 `json:"peak_hold"`               // Held peak in dB
	Clip          int     `json:"clip,omitzero"`           // Clipped samples in the window
	Quiet         bool    `json:"quiet,omitzero"`          // True if input has been below threshold for a while
	QuietDuration float64 `json:"quiet_duration,omitzero"` // Quiet duration in seconds
}

// VersionInfo contains version information for the frontend.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitzero"`
	UpdateAvail bool   `json:"update_available"`
	Commit      string `json:"commit,omitzero"`
	BuildTime   string `json:"build_time,omitzero"`
}

// FaultLogEntry is a single line in the fault log file.
type FaultLogEntry struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitzero"`
	Detail    string `json:"detail,omitzero"`
}

// WSTestResult is sent to the client after a notification test.
type WSTestResult struct {
	Type     string `json:"type"`
	TestType string `json:"test_type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitzero"`
}

// WSFaultLogResult is sent to the client in response to view_fault_log.
type WSFaultLogResult struct {
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitzero"`
	Path    string          `json:"path,omitzero"`
	Entries []FaultLogEntry `json:"entries,omitzero"`
}

// WSRecordingResult is sent to the client when a capture session completes.
type WSRecordingResult struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id,omitzero"`
	Success   bool    `json:"success"`
	Error     string  `json:"error,omitzero"`
	Format    string  `json:"format,omitzero"`
	Canonical bool    `json:"canonical,omitzero"`
	Bytes     int     `json:"bytes,omitzero"`
	Duration  float64 `json:"duration,omitzero"`
}

// WSAnalysisResult is sent to the client when the coaching backend replies.
type WSAnalysisResult struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitzero"`
	Success   bool   `json:"success"`
	Song      string `json:"song,omitzero"`
	Feedback  string `json:"feedback,omitzero"`
	Error     string `json:"error,omitzero"`
}

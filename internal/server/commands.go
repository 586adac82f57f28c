package server

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/notify"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// Input limits for client-supplied values.
const (
	maxSongLength   = 200
	maxDeviceLength = 256
	maxURLLength    = 2048
	maxPathLength   = 1024
	maxFaultEntries = 100
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Recorder is the capture service driven by the web interface.
type Recorder interface {
	// Start begins a take for the song and reports whether it was accepted.
	Start(song string) bool
	Stop()
	Cleanup()
	SetDevice(device string)
	SetFormats(labels []format.Label)
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	recorder     Recorder
	testTriggers map[string]func() error
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, recorder Recorder, testTriggers map[string]func() error) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		recorder:     recorder,
		testTriggers: testTriggers,
	}
}

// Handle processes a WebSocket command. Replies meant only for the sending
// client go through reply.
func (h *CommandHandler) Handle(cmd WSCommand, reply func(any), triggerStatusUpdate func()) {
	switch cmd.Type {
	case "start_recording":
		h.handleStartRecording(cmd, reply)
	case "stop_recording":
		h.recorder.Stop()
	case "cleanup_recording":
		h.recorder.Cleanup()
	case "update_settings":
		h.handleUpdateSettings(cmd)
	case "test_webhook", "test_log", "test_email":
		h.handleTest(reply, cmd.Type)
	case "view_fault_log":
		h.handleViewFaultLog(reply)
	default:
		slog.Warn("unknown WebSocket command type", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

func (h *CommandHandler) handleStartRecording(cmd WSCommand, reply func(any)) {
	var data struct {
		Song string `json:"song"`
	}
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			slog.Warn("start_recording: invalid JSON data", "error", err)
			return
		}
	}
	song := strings.TrimSpace(data.Song)
	if err := util.ValidateMaxLength("song", song, maxSongLength); err != nil {
		slog.Warn("start_recording: validation failed", "error", err.Message)
		reply(types.WSRecordingResult{Type: "recording_result", Error: err.Message})
		return
	}

	if !h.recorder.Start(song) {
		reply(types.WSRecordingResult{
			Type:  "recording_result",
			Error: "A recording is already in progress.",
		})
	}
}

// updateStringSetting validates and updates a string setting.
func updateStringSetting(value *string, maxLen int, name string, setter func(string) error) bool {
	if value == nil {
		return false
	}
	v := strings.TrimSpace(*value)
	if err := util.ValidateMaxLength(name, v, maxLen); err != nil {
		slog.Warn("update_settings: validation failed", "setting", name, "error", err.Message)
		return false
	}
	slog.Info("update_settings: changing setting", "setting", name)
	if err := setter(v); err != nil {
		slog.Error("update_settings: failed to save", "error", err)
		return false
	}
	return true
}

// validURL accepts empty values and http(s) URLs.
func validURL(setter func(string) error) func(string) error {
	return func(v string) error {
		if v != "" && !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return &util.ValidationError{Field: "url", Message: "url must start with http:// or https://"}
		}
		return setter(v)
	}
}

func (h *CommandHandler) handleUpdateSettings(cmd WSCommand) {
	var settings struct {
		CaptureDevice   *string  `json:"capture_device"`
		Formats         []string `json:"formats"`
		AnalysisURL     *string  `json:"analysis_url"`
		WebhookURL      *string  `json:"webhook_url"`
		LogPath         *string  `json:"log_path"`
		EmailSMTPHost   *string  `json:"email_smtp_host"`
		EmailSMTPPort   *int     `json:"email_smtp_port"`
		EmailFromName   *string  `json:"email_from_name"`
		EmailUsername   *string  `json:"email_username"`
		EmailPassword   *string  `json:"email_password"`
		EmailRecipients *string  `json:"email_recipients"`
	}
	if err := json.Unmarshal(cmd.Data, &settings); err != nil {
		slog.Warn("update_settings: invalid JSON data", "error", err)
		return
	}

	if updateStringSetting(settings.CaptureDevice, maxDeviceLength, "capture device", h.cfg.SetCaptureDevice) {
		h.recorder.SetDevice(h.cfg.CaptureDevice())
	}
	if settings.Formats != nil {
		h.updateFormats(settings.Formats)
	}
	updateStringSetting(settings.AnalysisURL, maxURLLength, "analysis URL", validURL(h.cfg.SetAnalysisURL))
	updateStringSetting(settings.WebhookURL, maxURLLength, "webhook URL", validURL(h.cfg.SetWebhookURL))
	updateStringSetting(settings.LogPath, maxPathLength, "log path", h.cfg.SetLogPath)

	if settings.EmailSMTPHost != nil || settings.EmailSMTPPort != nil ||
		settings.EmailFromName != nil || settings.EmailUsername != nil ||
		settings.EmailPassword != nil || settings.EmailRecipients != nil {
		// Get current values for fields not being updated
		cur := h.cfg.Snapshot()
		host := cur.EmailSMTPHost
		port := cur.EmailSMTPPort
		fromName := cur.EmailFromName
		username := cur.EmailUsername
		password := cur.EmailPassword
		recipients := cur.EmailRecipients
		if settings.EmailSMTPHost != nil {
			host = strings.TrimSpace(*settings.EmailSMTPHost)
		}
		if settings.EmailSMTPPort != nil {
			if err := util.ValidatePort("email_smtp_port", *settings.EmailSMTPPort); err != nil {
				slog.Warn("update_settings: validation failed", "error", err.Message)
				return
			}
			port = *settings.EmailSMTPPort
		}
		if settings.EmailFromName != nil {
			fromName = *settings.EmailFromName
		}
		if settings.EmailUsername != nil {
			username = *settings.EmailUsername
		}
		if settings.EmailPassword != nil {
			password = *settings.EmailPassword
		}
		if settings.EmailRecipients != nil {
			recipients = *settings.EmailRecipients
		}

		slog.Info("update_settings: updating email configuration")
		if err := h.cfg.SetEmailConfig(host, port, fromName, username, password, recipients); err != nil {
			slog.Error("update_settings: failed to save email config", "error", err)
		}
	}
}

// updateFormats saves the allowed capture formats. An empty list allows
// every format the host can produce.
func (h *CommandHandler) updateFormats(values []string) {
	labels := make([]format.Label, 0, len(values))
	names := make([]string, 0, len(values))
	for _, v := range values {
		l, ok := format.Parse(v)
		if !ok {
			slog.Warn("update_settings: unknown format", "format", v)
			return
		}
		labels = append(labels, l)
		names = append(names, string(l))
	}

	slog.Info("update_settings: changing formats", "formats", names)
	if err := h.cfg.SetFormats(names); err != nil {
		slog.Error("update_settings: failed to save", "error", err)
		return
	}
	h.recorder.SetFormats(labels)
}

// handleTest executes a notification test and sends the result to the client.
// testCmd should be in format "test_<type>" (e.g., "test_email", "test_webhook").
func (h *CommandHandler) handleTest(reply func(any), testCmd string) {
	testType := strings.TrimPrefix(testCmd, "test_")
	trigger, ok := h.testTriggers[testType]
	if !ok {
		slog.Warn("unknown test type", "command", testCmd)
		return
	}

	go func() {
		result := types.WSTestResult{
			Type:     "test_result",
			TestType: testType,
			Success:  true,
		}

		if err := trigger(); err != nil {
			slog.Error("test failed", "command", testCmd, "error", err)
			result.Success = false
			result.Error = err.Error()
		} else {
			slog.Info("test succeeded", "command", testCmd)
		}

		reply(result)
	}()
}

// handleViewFaultLog reads the newest fault log entries and returns them.
func (h *CommandHandler) handleViewFaultLog(reply func(any)) {
	go func() {
		result := types.WSFaultLogResult{
			Type:    "fault_log_result",
			Success: true,
		}

		logPath := h.cfg.LogPath()
		entries, err := notify.ReadFaultLog(logPath, maxFaultEntries)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
		} else {
			result.Entries = entries
			result.Path = logPath
		}

		reply(result)
	}()
}

// Package config provides application configuration management.
package config

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// Configuration defaults.
const (
	DefaultWebPort          = 8080
	DefaultWebUsername      = "admin"
	DefaultWebPassword      = "singcapture"
	DefaultCaptureBackend   = BackendMalgo
	DefaultAnalysisPath     = "/user/analyze"
	DefaultAnalysisTimeout  = 60
	DefaultAnalysisAttempts = 3
	DefaultEmailSMTPPort    = 587
	DefaultEmailFromName    = "ZuidWest Sing Capture"
)

// Capture backends.
const (
	BackendMalgo   = "malgo"
	BackendProcess = "process"
)

// WebConfig contains web server configuration.
type WebConfig struct {
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// CaptureConfig contains microphone and session configuration.
type CaptureConfig struct {
	Backend                 string   `json:"backend,omitempty"`
	Device                  string   `json:"device,omitempty"`
	SampleRate              int      `json:"sample_rate,omitempty"`
	Channels                int      `json:"channels,omitempty"`
	Bitrate                 int      `json:"bitrate,omitempty"`
	MaxDurationSeconds      int      `json:"max_duration_seconds,omitempty"`
	SegmentIntervalMS       int      `json:"segment_interval_ms,omitempty"`
	StopTimeoutMS           int      `json:"stop_timeout_ms,omitempty"`
	SettleDelayMS           int      `json:"settle_delay_ms,omitempty"`
	Formats                 []string `json:"formats,omitempty"`
	DisableEchoCancellation bool     `json:"disable_echo_cancellation,omitempty"`
	DisableNoiseSuppression bool     `json:"disable_noise_suppression,omitempty"`
	TempDir                 string   `json:"temp_dir,omitempty"`
}

// AnalysisConfig contains the coaching backend configuration.
type AnalysisConfig struct {
	URL            string `json:"url,omitempty"`
	Path           string `json:"path,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Attempts       int    `json:"attempts,omitempty"`
}

// EmailConfig contains email notification configuration.
type EmailConfig struct {
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port,omitempty"`
	FromName   string `json:"from_name,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	Recipients string `json:"recipients,omitempty"`
}

// NotificationsConfig contains all notification configuration.
type NotificationsConfig struct {
	WebhookURL string      `json:"webhook_url,omitempty"`
	LogPath    string      `json:"log_path,omitempty"`
	Email      EmailConfig `json:"email,omitempty"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	Web           WebConfig           `json:"web"`
	Capture       CaptureConfig       `json:"capture"`
	Analysis      AnalysisConfig      `json:"analysis,omitempty"`
	Notifications NotificationsConfig `json:"notifications,omitempty"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	return &Config{
		Web: WebConfig{
			Port:     DefaultWebPort,
			Username: DefaultWebUsername,
			Password: DefaultWebPassword,
		},
		Capture: CaptureConfig{
			Backend: DefaultCaptureBackend,
		},
		filePath: filePath,
	}
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()
	return c.validateLocked()
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.Web.Port == 0 {
		c.Web.Port = DefaultWebPort
	}
	if c.Web.Username == "" {
		c.Web.Username = DefaultWebUsername
	}
	if c.Web.Password == "" {
		c.Web.Password = DefaultWebPassword
	}
	if c.Capture.Backend == "" {
		c.Capture.Backend = DefaultCaptureBackend
	}
}

// validateLocked rejects values that cannot be used. Caller must hold c.mu.
func (c *Config) validateLocked() error {
	if err := util.ValidateRange("web.port", c.Web.Port, 1, 65535); err != nil {
		return err
	}
	if c.Capture.Backend != BackendMalgo && c.Capture.Backend != BackendProcess {
		return fmt.Errorf("capture.backend: unknown backend %q", c.Capture.Backend)
	}
	if c.Capture.MaxDurationSeconds < 0 || c.Capture.StopTimeoutMS < 0 ||
		c.Capture.SettleDelayMS < 0 || c.Capture.SegmentIntervalMS < 0 {
		return errors.New("capture: durations must not be negative")
	}
	return nil
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// WebPort returns the web server port.
func (c *Config) WebPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Web.Port
}

// WebUser returns the web authentication username.
func (c *Config) WebUser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Web.Username
}

// WebPassword returns the web authentication password.
func (c *Config) WebPassword() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Web.Password
}

// CaptureDevice returns the configured capture device. Empty means the
// platform default.
func (c *Config) CaptureDevice() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Capture.Device
}

// SetCaptureDevice updates the capture device and saves the configuration.
func (c *Config) SetCaptureDevice(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.Device = device
	return c.saveLocked()
}

// SetFormats updates the allowed capture formats and saves the configuration.
func (c *Config) SetFormats(formats []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Capture.Formats = slices.Clone(formats)
	return c.saveLocked()
}

// AnalysisURL returns the coaching backend base URL.
func (c *Config) AnalysisURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Analysis.URL
}

// SetAnalysisURL updates the coaching backend URL and saves the configuration.
func (c *Config) SetAnalysisURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Analysis.URL = url
	return c.saveLocked()
}

// WebhookURL returns the configured webhook URL for notifications.
func (c *Config) WebhookURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.WebhookURL
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.WebhookURL = url
	return c.saveLocked()
}

// LogPath returns the configured log file path for notifications.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.LogPath
}

// SetLogPath updates the log file path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.LogPath = path
	return c.saveLocked()
}

// SetEmailConfig updates all email configuration fields and saves.
func (c *Config) SetEmailConfig(host string, port int, fromName, username, password, recipients string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Email.Host = host
	c.Notifications.Email.Port = port
	c.Notifications.Email.FromName = fromName
	c.Notifications.Email.Username = username
	c.Notifications.Email.Password = password
	c.Notifications.Email.Recipients = recipients
	return c.saveLocked()
}

// Snapshot contains a point-in-time copy of all configuration values.
// Use this instead of multiple individual getters to reduce mutex contention.
type Snapshot struct {
	// Web
	WebPort     int
	WebUser     string
	WebPassword string

	// Capture
	CaptureBackend   string
	CaptureDevice    string
	SampleRate       int
	Channels         int
	Bitrate          int
	MaxDuration      time.Duration
	SegmentInterval  time.Duration
	StopTimeout      time.Duration
	SettleDelay      time.Duration
	Formats          []string
	EchoCancellation bool
	NoiseSuppression bool
	TempDir          string

	// Analysis
	AnalysisURL      string
	AnalysisPath     string
	AnalysisTimeout  time.Duration
	AnalysisAttempts int

	// Notifications
	WebhookURL string
	LogPath    string

	// Email
	EmailSMTPHost   string
	EmailSMTPPort   int
	EmailFromName   string
	EmailUsername   string
	EmailPassword   string
	EmailRecipients string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// Web
		WebPort:     c.Web.Port,
		WebUser:     c.Web.Username,
		WebPassword: c.Web.Password,

		// Capture (with defaults)
		CaptureBackend:   cmp.Or(c.Capture.Backend, DefaultCaptureBackend),
		CaptureDevice:    c.Capture.Device,
		SampleRate:       cmp.Or(c.Capture.SampleRate, types.SampleRate),
		Channels:         cmp.Or(c.Capture.Channels, types.Channels),
		Bitrate:          cmp.Or(c.Capture.Bitrate, types.EncoderBitrate),
		MaxDuration:      seconds(c.Capture.MaxDurationSeconds, types.MaxDuration),
		SegmentInterval:  millis(c.Capture.SegmentIntervalMS, types.SegmentInterval),
		StopTimeout:      millis(c.Capture.StopTimeoutMS, types.StopTimeout),
		SettleDelay:      millis(c.Capture.SettleDelayMS, types.SettleDelay),
		Formats:          slices.Clone(c.Capture.Formats),
		EchoCancellation: !c.Capture.DisableEchoCancellation,
		NoiseSuppression: !c.Capture.DisableNoiseSuppression,
		TempDir:          c.Capture.TempDir,

		// Analysis (with defaults)
		AnalysisURL:      c.Analysis.URL,
		AnalysisPath:     cmp.Or(c.Analysis.Path, DefaultAnalysisPath),
		AnalysisTimeout:  seconds(c.Analysis.TimeoutSeconds, DefaultAnalysisTimeout*time.Second),
		AnalysisAttempts: cmp.Or(c.Analysis.Attempts, DefaultAnalysisAttempts),

		// Notifications
		WebhookURL: c.Notifications.WebhookURL,
		LogPath:    c.Notifications.LogPath,

		// Email (with defaults)
		EmailSMTPHost:   c.Notifications.Email.Host,
		EmailSMTPPort:   cmp.Or(c.Notifications.Email.Port, DefaultEmailSMTPPort),
		EmailFromName:   cmp.Or(c.Notifications.Email.FromName, DefaultEmailFromName),
		EmailUsername:   c.Notifications.Email.Username,
		EmailPassword:   c.Notifications.Email.Password,
		EmailRecipients: c.Notifications.Email.Recipients,
	}
}

func seconds(v int, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func millis(v int, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// HasWebhook returns true if a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasEmail returns true if email notifications are configured.
func (s *Snapshot) HasEmail() bool {
	return s.EmailSMTPHost != "" && s.EmailRecipients != ""
}

// HasLogPath returns true if a log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasAnalysis returns true if a coaching backend is configured.
func (s *Snapshot) HasAnalysis() bool {
	return s.AnalysisURL != ""
}

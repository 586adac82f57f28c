package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
)

func TestShouldNotify(t *testing.T) {
	tests := map[string]bool{
		"device_unavailable": true,
		"stop_timeout":       true,
		"recorder_fault":     true,
		"permission_denied":  false,
		"no_audio_captured":  false,
		"cancelled":          false,
		"":                   false,
	}
	for kind, want := range tests {
		assert.Equal(t, want, ShouldNotify(kind), kind)
	}
}

func TestSendFaultWebhookPayload(t *testing.T) {
	got := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		got <- payload
	}))
	defer srv.Close()

	err := SendFaultWebhook(srv.URL, Fault{Kind: "stop_timeout", SessionID: "abc", Detail: "encoder hung"})
	require.NoError(t, err)

	payload := <-got
	assert.Equal(t, "capture_fault", payload["event"])
	assert.Equal(t, "stop_timeout", payload["kind"])
	assert.Equal(t, "abc", payload["session_id"])
	assert.Equal(t, "encoder hung", payload["detail"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestSendWebhookStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := SendTestWebhook(srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSendTestWebhookRequiresURL(t *testing.T) {
	assert.EqualError(t, SendTestWebhook(""), "webhook URL not configured")
	assert.NoError(t, SendFaultWebhook("", Fault{Kind: "recorder_fault"}))
}

func TestSendTestEmailRequiresSettings(t *testing.T) {
	assert.EqualError(t, SendTestEmail(&EmailConfig{}), "SMTP host not configured")
	assert.NoError(t, SendFaultAlert(&EmailConfig{}, Fault{Kind: "recorder_fault"}))
}

func TestParseRecipients(t *testing.T) {
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, parseRecipients(" a@example.org, ,b@example.org,"))
	assert.Empty(t, parseRecipients(" , "))
}

func TestEmailConfigFromSnapshot(t *testing.T) {
	snap := &config.Snapshot{EmailSMTPHost: "smtp.example.org", EmailSMTPPort: 465, EmailUsername: "ops@example.org", EmailRecipients: "x@example.org"}
	cfg := EmailConfigFromSnapshot(snap)
	assert.Equal(t, "smtp.example.org", cfg.Host)
	assert.Equal(t, 465, cfg.Port)
	assert.Equal(t, "x@example.org", cfg.Recipients)
}

func TestLogFaultAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faults.jsonl")

	require.NoError(t, LogFault(path, Fault{Kind: "device_unavailable", SessionID: "s1", Detail: "no device"}))
	require.NoError(t, WriteTestLog(path))
	require.NoError(t, LogFault(path, Fault{Kind: "stop_timeout", SessionID: "s2"}))

	entries, err := ReadFaultLog(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "stop_timeout", entries[0].Event)
	assert.Equal(t, "s2", entries[0].SessionID)
	assert.Equal(t, "test", entries[1].Event)
	assert.Equal(t, "device_unavailable", entries[2].Event)
	assert.Equal(t, "no device", entries[2].Detail)

	entries, err = ReadFaultLog(path, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "stop_timeout", entries[0].Event)
	assert.Equal(t, "test", entries[1].Event)
}

func TestReadFaultLogSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faults.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"timestamp\":\"t\",\"event\":\"recorder_fault\"}\n"), 0o644))

	entries, err := ReadFaultLog(path, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recorder_fault", entries[0].Event)
}

func TestReadFaultLogMissingFile(t *testing.T) {
	entries, err := ReadFaultLog(filepath.Join(t.TempDir(), "absent.jsonl"), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = ReadFaultLog("", 10)
	assert.Error(t, err)
}

func TestHandleFaultCooldown(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	logPath := filepath.Join(dir, "faults.jsonl")
	require.NoError(t, cfg.SetLogPath(logPath))

	n := NewFaultNotifier(cfg)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	assert.False(t, n.HandleFault(Fault{Kind: "permission_denied"}))
	assert.True(t, n.HandleFault(Fault{Kind: "recorder_fault", SessionID: "a"}))
	assert.False(t, n.HandleFault(Fault{Kind: "recorder_fault", SessionID: "b"}))
	assert.True(t, n.HandleFault(Fault{Kind: "stop_timeout", SessionID: "c"}))

	now = now.Add(DefaultCooldown)
	assert.True(t, n.HandleFault(Fault{Kind: "recorder_fault", SessionID: "d"}))

	assert.Eventually(t, func() bool {
		entries, err := ReadFaultLog(logPath, 0)
		return err == nil && len(entries) == 3
	}, 2*time.Second, 10*time.Millisecond)

	n.Reset()
	assert.True(t, n.HandleFault(Fault{Kind: "recorder_fault", SessionID: "e"}))
	assert.Eventually(t, func() bool {
		entries, err := ReadFaultLog(logPath, 0)
		return err == nil && len(entries) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

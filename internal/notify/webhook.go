package notify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// webhookPayload is the JSON body posted to the operator's webhook.
type webhookPayload struct {
	Event     string `json:"event"`
	Kind      string `json:"kind,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SendFaultWebhook posts f to url. An empty url is a no-op.
func SendFaultWebhook(url string, f Fault) error {
	if !util.IsConfigured(url) {
		return nil
	}
	return postWebhook(url, webhookPayload{
		Event:     "capture_fault",
		Kind:      f.Kind,
		SessionID: f.SessionID,
		Detail:    f.Detail,
		Timestamp: util.RFC3339Now(),
	})
}

// SendTestWebhook posts a test event to url.
func SendTestWebhook(url string) error {
	if url == "" {
		return errors.New("webhook URL not configured")
	}
	return postWebhook(url, webhookPayload{
		Event:     "test",
		Message:   "Test notification from ZuidWest Sing Capture",
		Timestamp: util.RFC3339Now(),
	})
}

func postWebhook(url string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	resp, err := webhookClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

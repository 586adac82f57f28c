// Package analysis uploads finished recordings to the coaching backend.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/metrics"
	"github.com/oszuidwest/zwfm-singcapture/internal/normalize"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// DefaultFeedback is returned when the backend accepts the upload but has
// nothing to say.
const DefaultFeedback = "I've analyzed your recording. Keep practicing - you're doing great!"

// maxErrorBody limits how much of an error response is quoted.
const maxErrorBody = 4096

var (
	// ErrNotConfigured is returned when no backend URL is set.
	ErrNotConfigured = errors.New("analysis backend not configured")
	// ErrCancelled is returned when the caller gave up on the request.
	ErrCancelled = errors.New("request was cancelled")
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Server error (%d): %s", e.Code, e.Body)
}

// retryable reports whether another attempt may succeed.
func (e *StatusError) retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Options configures a Client.
type Options struct {
	URL      string
	Path     string
	Timeout  time.Duration
	Attempts int
}

// OptionsFromSnapshot returns the client options held in a config snapshot.
func OptionsFromSnapshot(cfg *config.Snapshot) Options {
	return Options{
		URL:      cfg.AnalysisURL,
		Path:     cfg.AnalysisPath,
		Timeout:  cfg.AnalysisTimeout,
		Attempts: cfg.AnalysisAttempts,
	}
}

// Client posts recordings to the coaching backend.
type Client struct {
	opts    Options
	http    *http.Client
	metrics *metrics.Metrics
	now     func() time.Time

	initialDelay time.Duration
	maxDelay     time.Duration
}

// New creates a Client. m may be nil.
func New(opts Options, m *metrics.Metrics) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Client{
		opts:         opts,
		http:         &http.Client{Timeout: opts.Timeout},
		metrics:      m,
		now:          time.Now,
		initialDelay: types.InitialRetryDelay,
		maxDelay:     types.MaxRetryDelay,
	}
}

// Endpoint returns the full URL uploads are sent to.
func (c *Client) Endpoint() string {
	return strings.TrimRight(c.opts.URL, "/") + "/" + strings.TrimLeft(c.opts.Path, "/")
}

// Analyze uploads the artifact with the song name and returns the backend's
// feedback. Transport errors and 5xx replies are retried with backoff.
func (c *Client) Analyze(ctx context.Context, song string, a *normalize.Artifact) (string, error) {
	if c.opts.URL == "" {
		return "", ErrNotConfigured
	}
	if a == nil || len(a.Data) == 0 {
		return "", errors.New("no recording to analyze")
	}

	body, contentType, err := c.buildForm(song, a)
	if err != nil {
		return "", err
	}

	backoff := util.NewBackoff(c.initialDelay, c.maxDelay)
	var lastErr error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		feedback, err := c.post(ctx, body, contentType)
		if err == nil {
			c.metrics.RecordAnalysis(true)
			return feedback, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			c.metrics.RecordAnalysis(false)
			return "", ErrCancelled
		}
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if attempt == c.opts.Attempts {
			break
		}

		delay := backoff.Next()
		slog.Warn("analysis upload failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			c.metrics.RecordAnalysis(false)
			return "", ErrCancelled
		case <-time.After(delay):
		}
	}

	c.metrics.RecordAnalysis(false)
	return "", lastErr
}

// buildForm encodes the multipart body once so retries resend the same bytes.
func (c *Client) buildForm(song string, a *normalize.Artifact) (payload []byte, contentType string, err error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("song_name", song); err != nil {
		return nil, "", util.WrapError("write song name", err)
	}

	name := fmt.Sprintf("recording_%d.%s", c.now().UnixMilli(), a.Label.Extension())
	part, err := w.CreateFormFile("audio_file", name)
	if err != nil {
		return nil, "", util.WrapError("create audio part", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, "", util.WrapError("write audio part", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", util.WrapError("close multipart body", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) post(ctx context.Context, body []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", util.WrapError("create request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", util.WrapError("send analysis request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "analysis response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", util.WrapError("read analysis response", err)
	}
	return parseFeedback(data), nil
}

// parseFeedback extracts the reply text. The backend answers with either a
// JSON string or an object carrying the text in one of a few fields.
func parseFeedback(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return DefaultFeedback
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}

	switch t := v.(type) {
	case nil:
		return DefaultFeedback
	case string:
		if t == "" {
			return DefaultFeedback
		}
		return t
	case map[string]any:
		for _, key := range []string{"feedback", "response", "message", "analysis"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return string(data)
}

package analysis

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/normalize"
)

func testArtifact() *normalize.Artifact {
	return &normalize.Artifact{Data: []byte("RIFF-test-data"), Label: format.LabelWAV, Canonical: true}
}

func newTestClient(url string, attempts int) *Client {
	c := New(Options{URL: url, Path: "/user/analyze", Timeout: 5 * time.Second, Attempts: attempts}, nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000123) }
	c.initialDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestAnalyzeSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/analyze", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Let It Go", r.FormValue("song_name"))

		f, hdr, err := r.FormFile("audio_file")
		if assert.NoError(t, err) {
			assert.Equal(t, "recording_1700000000123.wav", hdr.Filename)
			data, _ := io.ReadAll(f)
			assert.Equal(t, "RIFF-test-data", string(data))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `"Nice pitch control."`)
	}))
	defer srv.Close()

	feedback, err := newTestClient(srv.URL+"/", 1).Analyze(context.Background(), "Let It Go", testArtifact())
	require.NoError(t, err)
	assert.Equal(t, "Nice pitch control.", feedback)
}

func TestAnalyzeServerErrorNotRetriedOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown song", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Analyze(context.Background(), "x", testArtifact())
	require.Error(t, err)
	assert.Equal(t, "Server error (404): unknown song", err.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnalyzeRetries5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"feedback":"Better breath support."}`)
	}))
	defer srv.Close()

	feedback, err := newTestClient(srv.URL, 3).Analyze(context.Background(), "x", testArtifact())
	require.NoError(t, err)
	assert.Equal(t, "Better breath support.", feedback)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAnalyzeGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Analyze(context.Background(), "x", testArtifact())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnalyzeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL, 3).Analyze(ctx, "x", testArtifact())
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAnalyzeRequiresConfig(t *testing.T) {
	_, err := newTestClient("", 1).Analyze(context.Background(), "x", testArtifact())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = newTestClient("http://127.0.0.1:1", 1).Analyze(context.Background(), "x", &normalize.Artifact{})
	assert.Error(t, err)
}

func TestParseFeedback(t *testing.T) {
	tests := map[string]string{
		``:                  DefaultFeedback,
		`null`:              DefaultFeedback,
		`""`:                DefaultFeedback,
		`"hello"`:           "hello",
		`{"response":"ok"}`: "ok",
		`{"message":"hi"}`:  "hi",
		`{"score":3}`:       `{"score":3}`,
		`plain text`:        "plain text",
	}
	for in, want := range tests {
		assert.Equal(t, want, parseFeedback([]byte(in)), in)
	}
}

func TestEndpoint(t *testing.T) {
	c := New(Options{URL: "http://coach:8000/", Path: "user/analyze"}, nil)
	assert.Equal(t, "http://coach:8000/user/analyze", c.Endpoint())
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStarted()
		m.RecordOutcome(OutcomeSuccess)
		m.RecordArtifact(100, 1, true)
		m.RecordConversion(0.1)
		m.SetState(types.StateRecording)
		m.RecordCleanup(false)
		m.RecordStopAckTimeout()
		m.RecordAnalysis(true)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestSetStateIsExclusive(t *testing.T) {
	m := New()
	m.SetState(types.StateRecording)
	m.SetState(types.StateStopping)

	body := scrape(t, m)
	assert.Contains(t, body, `singcapture_session_state{state="recording"} 0`)
	assert.Contains(t, body, `singcapture_session_state{state="stopping"} 1`)
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordOutcome(OutcomeSuccess)
	m.RecordOutcome(OutcomeSuccess)
	m.RecordArtifact(1000, 5, false)
	m.RecordCleanup(true)
	m.RecordCleanup(false)

	body := scrape(t, m)
	assert.Contains(t, body, `singcapture_sessions_finished_total{outcome="success"} 2`)
	assert.Contains(t, body, "singcapture_conversion_fallbacks_total 1")
	assert.Contains(t, body, "singcapture_cleanup_skipped_total 1")
	assert.Contains(t, body, "singcapture_cleanup_passes_total 1")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordStarted()

	body := scrape(t, m)
	assert.Contains(t, body, "singcapture_sessions_started_total 1")
	assert.Contains(t, body, "go_goroutines")
}

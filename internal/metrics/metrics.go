// Package metrics exposes Prometheus metrics for the capture service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// Session outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

var states = []types.SessionState{
	types.StateIdle,
	types.StateAcquiring,
	types.StateRecording,
	types.StateStopping,
	types.StateConverting,
	types.StateCleaningUp,
}

// Metrics contains all Prometheus metrics for the capture service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionState     *prometheus.GaugeVec
	RecordingLength  prometheus.Histogram

	// Artifact metrics
	ArtifactSize        prometheus.Histogram
	ConversionFallbacks prometheus.Counter
	ConversionDuration  prometheus.Histogram

	// Janitor metrics
	CleanupPasses   prometheus.Counter
	CleanupSkipped  prometheus.Counter
	StopAckTimeouts prometheus.Counter

	// Analysis upload metrics
	AnalysisRequests *prometheus.CounterVec
}

// New creates all metrics on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "singcapture_sessions_started_total",
			Help: "Total number of capture sessions that reached the recording state",
		}),
		SessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "singcapture_sessions_finished_total",
			Help: "Total number of capture sessions by outcome",
		}, []string{"outcome"}),
		SessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "singcapture_session_state",
			Help: "Current capture session state (1 for the active state)",
		}, []string{"state"}),
		RecordingLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "singcapture_recording_duration_seconds",
			Help:    "Length of delivered recordings",
			Buckets: prometheus.LinearBuckets(5, 5, 12), // 5s to 60s
		}),

		ArtifactSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "singcapture_artifact_size_bytes",
			Help:    "Size of delivered artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10), // 16KB to ~8MB
		}),
		ConversionFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "singcapture_conversion_fallbacks_total",
			Help: "Total number of recordings delivered in their original encoding",
		}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "singcapture_conversion_duration_seconds",
			Help:    "Time spent normalizing recordings",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		CleanupPasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "singcapture_cleanup_passes_total",
			Help: "Total number of completed cleanup passes",
		}),
		CleanupSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "singcapture_cleanup_skipped_total",
			Help: "Total number of cleanup calls that found a pass already in flight",
		}),
		StopAckTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "singcapture_stop_ack_timeouts_total",
			Help: "Total number of encoder stop requests that were not acknowledged in time",
		}),

		AnalysisRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "singcapture_analysis_requests_total",
			Help: "Total number of analysis uploads by result",
		}, []string{"result"}),
	}
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStarted counts a session that reached the recording state.
func (m *Metrics) RecordStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordOutcome counts a finished session. Outcome is one of the Outcome
// constants or an error kind.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.SessionsFinished.WithLabelValues(outcome).Inc()
}

// RecordArtifact records the size and length of a delivered artifact.
func (m *Metrics) RecordArtifact(size int, seconds float64, canonical bool) {
	if m == nil {
		return
	}
	m.ArtifactSize.Observe(float64(size))
	if seconds > 0 {
		m.RecordingLength.Observe(seconds)
	}
	if !canonical {
		m.ConversionFallbacks.Inc()
	}
}

// RecordConversion records how long normalization took.
func (m *Metrics) RecordConversion(seconds float64) {
	if m == nil {
		return
	}
	m.ConversionDuration.Observe(seconds)
}

// SetState marks state as the current session state.
func (m *Metrics) SetState(state types.SessionState) {
	if m == nil {
		return
	}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(string(s)).Set(v)
	}
}

// RecordCleanup counts a cleanup pass, or a skipped call when a pass was
// already running.
func (m *Metrics) RecordCleanup(skipped bool) {
	if m == nil {
		return
	}
	if skipped {
		m.CleanupSkipped.Inc()
		return
	}
	m.CleanupPasses.Inc()
}

// RecordStopAckTimeout counts an unacknowledged encoder stop.
func (m *Metrics) RecordStopAckTimeout() {
	if m == nil {
		return
	}
	m.StopAckTimeouts.Inc()
}

// RecordAnalysis counts an analysis upload result.
func (m *Metrics) RecordAnalysis(ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.AnalysisRequests.WithLabelValues(result).Inc()
}

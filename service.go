package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/analysis"
	"github.com/oszuidwest/zwfm-singcapture/internal/audio"
	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/metrics"
	"github.com/oszuidwest/zwfm-singcapture/internal/normalize"
	"github.com/oszuidwest/zwfm-singcapture/internal/notify"
	"github.com/oszuidwest/zwfm-singcapture/internal/recording"
	"github.com/oszuidwest/zwfm-singcapture/internal/server"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// Controller is the part of recording.Controller the service drives.
type Controller interface {
	StartRecording(ctx context.Context, onComplete recording.CompletionFunc) bool
	StopRecording()
	CleanupRecording()
	Shutdown()
	SetDevice(device string)
	SetCapabilities(caps format.Capabilities)
	Status() types.CaptureStatus
	Levels() types.AudioLevels
}

// Analyzer uploads a finished take to the coaching backend.
type Analyzer interface {
	Analyze(ctx context.Context, song string, a *normalize.Artifact) (string, error)
}

// CaptureService connects the capture controller to the web interface,
// fault notifications, and the coaching backend.
type CaptureService struct {
	ctx        context.Context
	cfg        *config.Config
	controller Controller
	source     audio.Source
	hostCaps   format.Capabilities
	hub        *server.Hub
	notifier   *notify.FaultNotifier
	metrics    *metrics.Metrics

	// newAnalyzer is called per take so settings changes apply immediately.
	newAnalyzer func(cfg *config.Snapshot) Analyzer

	mu            sync.RWMutex
	latest        *normalize.Artifact
	latestSession string
}

// NewCaptureService creates the service. hostCaps is the set of labels the
// host can encode before the configured allow-list is applied.
func NewCaptureService(
	ctx context.Context,
	cfg *config.Config,
	controller Controller,
	source audio.Source,
	hostCaps format.Capabilities,
	m *metrics.Metrics,
) *CaptureService {
	return &CaptureService{
		ctx:        ctx,
		cfg:        cfg,
		controller: controller,
		source:     source,
		hostCaps:   hostCaps,
		hub:        server.NewHub(),
		notifier:   notify.NewFaultNotifier(cfg),
		metrics:    m,
		newAnalyzer: func(snap *config.Snapshot) Analyzer {
			return analysis.New(analysis.OptionsFromSnapshot(snap), m)
		},
	}
}

// Hub returns the broadcast hub for connected clients.
func (s *CaptureService) Hub() *server.Hub {
	return s.hub
}

// Start begins a take for song.
func (s *CaptureService) Start(song string) bool {
	accepted := s.controller.StartRecording(s.ctx, func(r recording.Result) {
		s.complete(song, r)
	})
	if accepted {
		slog.Info("take requested", "song", song)
	}
	return accepted
}

// Stop asks the live take to finish.
func (s *CaptureService) Stop() {
	s.controller.StopRecording()
}

// Cleanup tears down whatever is live.
func (s *CaptureService) Cleanup() {
	s.controller.CleanupRecording()
}

// SetDevice selects the microphone for the next take.
func (s *CaptureService) SetDevice(device string) {
	s.controller.SetDevice(device)
}

// SetFormats limits the labels offered to negotiation.
func (s *CaptureService) SetFormats(labels []format.Label) {
	caps := s.hostCaps.Restrict(labels)
	if len(caps) == 0 {
		slog.Warn("no allowed format is available on this host, using defaults", "formats", labels)
		caps = s.hostCaps
	}
	s.controller.SetCapabilities(caps)
}

// Formats returns the labels the host can produce, in preference order.
func (s *CaptureService) Formats() []format.Label {
	return s.hostCaps.Labels()
}

// Status returns the controller status.
func (s *CaptureService) Status() types.CaptureStatus {
	return s.controller.Status()
}

// Levels returns the current input levels.
func (s *CaptureService) Levels() types.AudioLevels {
	return s.controller.Levels()
}

// Devices lists input devices on the active backend.
func (s *CaptureService) Devices() []types.AudioDevice {
	if lister, ok := s.source.(audio.DeviceLister); ok {
		devices, err := lister.Devices()
		if err == nil {
			return devices
		}
		slog.Warn("failed to list capture devices", "error", err)
	}
	return audio.ListDevices()
}

// Latest returns the most recent artifact and its session ID.
func (s *CaptureService) Latest() (*normalize.Artifact, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latestSession
}

// Close releases the live take and then the capture backend. The backend
// is closed only after every cleanup pass has released its device.
func (s *CaptureService) Close() error {
	s.controller.Shutdown()
	if c, ok := s.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// complete handles the single outcome of a take.
func (s *CaptureService) complete(song string, r recording.Result) {
	if r.Err != nil {
		kind := recording.Kind(r.Err)
		slog.Warn("take failed", "session_id", r.SessionID, "kind", kind, "error", r.Err)
		s.hub.Publish(types.WSRecordingResult{
			Type:      "recording_result",
			SessionID: r.SessionID,
			Error:     r.Message,
		})
		s.notifier.HandleFault(notify.Fault{Kind: kind, SessionID: r.SessionID, Detail: r.Err.Error()})
		return
	}

	a := r.Artifact
	s.mu.Lock()
	s.latest = a
	s.latestSession = r.SessionID
	s.mu.Unlock()

	s.hub.Publish(types.WSRecordingResult{
		Type:      "recording_result",
		SessionID: r.SessionID,
		Success:   true,
		Format:    a.Label.String(),
		Canonical: a.Canonical,
		Bytes:     len(a.Data),
		Duration:  a.Duration().Seconds(),
	})

	snap := s.cfg.Snapshot()
	if !snap.HasAnalysis() {
		return
	}
	go s.analyze(&snap, r.SessionID, song, a)
}

func (s *CaptureService) analyze(snap *config.Snapshot, sessionID, song string, a *normalize.Artifact) {
	ctx, cancel := context.WithTimeout(s.ctx, snap.AnalysisTimeout*time.Duration(max(snap.AnalysisAttempts, 1)))
	defer cancel()

	result := types.WSAnalysisResult{
		Type:      "analysis_result",
		SessionID: sessionID,
		Song:      song,
	}
	feedback, err := s.newAnalyzer(snap).Analyze(ctx, song, a)
	if err != nil {
		slog.Error("analysis failed", "session_id", sessionID, "error", err)
		result.Error = err.Error()
	} else {
		slog.Info("analysis received", "session_id", sessionID)
		result.Success = true
		result.Feedback = feedback
	}
	s.hub.Publish(result)
}

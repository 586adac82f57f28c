// Package main implements a singing practice capture service that records a
// take from the microphone, normalizes it to canonical WAV, and hands it to a
// coaching backend.
//
// Usage:
//
//	zwfm-singcapture [-config path/to/config.json]
//
// If -config is not specified, the service looks for config.json in the same
// directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/audio"
	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/encoder"
	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/metrics"
	"github.com/oszuidwest/zwfm-singcapture/internal/normalize"
	"github.com/oszuidwest/zwfm-singcapture/internal/recording"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// probeTimeout bounds the FFmpeg capability probe at startup.
const probeTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	snap := cfg.Snapshot()

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	m := metrics.New()
	source := newSource(snap.CaptureBackend)
	hostCaps := probeCapabilities(ctx)
	normalizer := normalize.New(snap.TempDir)

	controller := recording.NewController(
		recording.Config{
			Constraints: audio.Constraints{
				Device:           snap.CaptureDevice,
				SampleRate:       snap.SampleRate,
				Channels:         snap.Channels,
				EchoCancellation: snap.EchoCancellation,
				NoiseSuppression: snap.NoiseSuppression,
			},
			Capabilities: allowedCapabilities(hostCaps, snap.Formats),
			MaxElapsed:   int(snap.MaxDuration / time.Second),
			TickInterval: time.Second,
			StopTimeout:  snap.StopTimeout,
			SettleDelay:  snap.SettleDelay,
		},
		audio.NewSession(source),
		encoder.Factory{Options: encoder.Options{
			SampleRate:       snap.SampleRate,
			Channels:         snap.Channels,
			Bitrate:          snap.Bitrate,
			SegmentInterval:  snap.SegmentInterval,
			NoiseSuppression: snap.NoiseSuppression,
		}},
		normalizer,
		m,
	)

	svc := NewCaptureService(ctx, cfg, controller, source, hostCaps, m)
	srv := NewServer(cfg, svc, m)
	go srv.version.Run(ctx)

	slog.Info("capture service ready",
		"backend", snap.CaptureBackend,
		"formats", hostCaps.Labels(),
		"max_duration", snap.MaxDuration)

	// Start web server.
	httpServer := srv.Start()

	<-ctx.Done()
	slog.Info("shutting down")

	// Shut down HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := svc.Close(); err != nil {
		slog.Error("error closing capture backend", "error", err)
	}
	if err := normalizer.Close(); err != nil {
		slog.Error("error removing scratch files", "error", err)
	}

	slog.Info("shutdown complete")
}

// newSource returns the capture backend named in the config.
func newSource(backend string) audio.Source {
	if backend == config.BackendProcess {
		return audio.NewProcessSource()
	}
	return audio.NewMalgoSource()
}

// probeCapabilities asks FFmpeg which labels it can encode. Without FFmpeg
// only the in-process WAV encoder is available.
func probeCapabilities(ctx context.Context) format.Capabilities {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	features, err := ffmpeg.Probe(ctx)
	if err != nil {
		slog.Warn("FFmpeg not available, recording WAV only", "error", err)
		return format.NewCapabilities(format.LabelWAV)
	}
	return format.FromFeatures(features)
}

// allowedCapabilities applies the configured allow-list to the host set.
func allowedCapabilities(host format.Capabilities, allowed []string) format.Capabilities {
	labels := make([]format.Label, 0, len(allowed))
	for _, s := range allowed {
		l, ok := format.Parse(s)
		if !ok {
			slog.Warn("ignoring unknown format in config", "format", s)
			continue
		}
		labels = append(labels, l)
	}
	caps := host.Restrict(labels)
	if len(caps) == 0 {
		slog.Warn("no configured format is available on this host, using defaults", "formats", allowed)
		return host
	}
	return caps
}

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// MalgoSource captures audio through miniaudio. The miniaudio context is
// created on first use and lives until Close.
type MalgoSource struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoSource creates a miniaudio capture source.
func NewMalgoSource() *MalgoSource {
	return &MalgoSource{}
}

// context returns the shared miniaudio context, initializing it if needed.
func (m *MalgoSource) context() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return m.ctx, nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init miniaudio context: %v", ErrDeviceUnavailable, err)
	}
	m.ctx = ctx
	return ctx, nil
}

// Devices lists capture devices. IDs are hex-encoded miniaudio device IDs.
func (m *MalgoSource) Devices() ([]types.AudioDevice, error) {
	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	devices := make([]types.AudioDevice, 0, len(infos))
	for _, d := range infos {
		devices = append(devices, types.AudioDevice{
			ID:   hex.EncodeToString(d.ID[:]),
			Name: d.Name(),
		})
	}
	return devices, nil
}

// Acquire opens and starts a capture device.
func (m *MalgoSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation {
		slog.Debug("echo cancellation not available on miniaudio backend, ignoring")
	}

	mctx, err := m.context()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(c.Channels)
	deviceConfig.SampleRate = uint32(c.SampleRate)

	if c.Device != "" {
		idBytes, err := hex.DecodeString(c.Device)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid device ID %q", ErrDeviceUnavailable, c.Device)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	ms := &malgoStream{pcm: make(chan []byte, 64)}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) == 0 || ms.closed.Load() {
				return
			}
			chunk := make([]byte, len(input))
			copy(chunk, input)
			select {
			case ms.pcm <- chunk:
			default:
				ms.dropped.Add(1)
			}
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, classifyCaptureError(err, "")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classifyCaptureError(err, "")
	}
	ms.device = device

	slog.Info("miniaudio capture started", "sample_rate", c.SampleRate, "channels", c.Channels)
	return ms, nil
}

// Close releases the miniaudio context.
func (m *MalgoSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}
	m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return nil
}

// malgoStream is a started miniaudio capture device.
type malgoStream struct {
	device  *malgo.Device
	pcm     chan []byte
	closed  atomic.Bool
	dropped atomic.Int64
	once    sync.Once
}

func (s *malgoStream) PCM() <-chan []byte {
	return s.pcm
}

// Stop halts the device before closing the channel so no callback can
// send on a closed channel.
func (s *malgoStream) Stop() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.device.Stop()
		s.device.Uninit()
		close(s.pcm)
		if n := s.dropped.Load(); n > 0 {
			slog.Warn("capture buffers dropped", "count", n)
		}
	})
	return err
}

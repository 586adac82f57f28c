package audio

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// DefaultStartTimeout bounds how long a capture command may take to deliver
// its first audio.
const DefaultStartTimeout = 3 * time.Second

// readSize is the pipe read size (~46ms of mono 44.1 kHz audio).
const readSize = 4096

// ProcessSource captures audio by running the platform capture command
// (arecord, or FFmpeg with avfoundation/dshow) and reading raw PCM from stdout.
type ProcessSource struct {
	StartTimeout time.Duration

	// buildCommand is replaceable for tests.
	buildCommand func(device string, sampleRate, channels int) (string, []string, error)
}

// NewProcessSource creates a process-based capture source.
func NewProcessSource() *ProcessSource {
	return &ProcessSource{
		StartTimeout: DefaultStartTimeout,
		buildCommand: BuildCaptureCommand,
	}
}

// Devices returns the input devices reported by the platform tools.
func (s *ProcessSource) Devices() ([]types.AudioDevice, error) {
	return ListDevices(), nil
}

// Acquire starts the capture command and waits until it delivers audio.
func (s *ProcessSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if c.EchoCancellation {
		slog.Debug("echo cancellation not available on capture command, ignoring")
	}

	name, args, err := s.buildCommand(c.Device, c.SampleRate, c.Channels)
	if err != nil {
		return nil, err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, util.WrapError("create stdout pipe", err)
	}
	stderr := util.NewStderrBuffer()
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, classifyCaptureError(err, "")
	}

	ps := &processStream{
		cmd:     cmd,
		cancel:  cancel,
		stdout:  stdout,
		stderr:  stderr,
		pcm:     make(chan []byte, 32),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		started: make(chan error, 1),
	}
	go ps.readLoop()

	timeout := s.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}

	select {
	case err := <-ps.started:
		if err != nil {
			_ = ps.Stop()
			return nil, classifyCaptureError(err, stderr.String())
		}
	case <-ctx.Done():
		_ = ps.Stop()
		return nil, ctx.Err()
	case <-time.After(timeout):
		_ = ps.Stop()
		return nil, fmt.Errorf("%w: no audio from %s within %s", ErrDeviceUnavailable, name, timeout)
	}

	slog.Info("capture process started", "command", name, "pid", cmd.Process.Pid)
	return ps, nil
}

// processStream is a running capture command.
type processStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	stderr *util.BoundedBuffer

	pcm     chan []byte
	done    chan struct{}
	exited  chan struct{}
	started chan error

	stopOnce sync.Once
}

func (p *processStream) PCM() <-chan []byte {
	return p.pcm
}

// readLoop copies stdout into the PCM channel until EOF or Stop.
func (p *processStream) readLoop() {
	defer close(p.pcm)
	defer close(p.exited)

	signalled := false
	buf := make([]byte, readSize)
	for {
		n, err := p.stdout.Read(buf)
		if n > 0 {
			if !signalled {
				signalled = true
				p.started <- nil
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.pcm <- chunk:
			case <-p.done:
				_ = p.cmd.Wait()
				return
			}
		}
		if err != nil {
			waitErr := p.cmd.Wait()
			if !signalled {
				if waitErr == nil && errors.Is(err, io.EOF) {
					waitErr = errors.New("capture command exited without audio")
				}
				p.started <- cmp.Or(waitErr, err)
			}
			return
		}
	}
}

// Stop requests a graceful exit and kills the command if it lingers.
func (p *processStream) Stop() error {
	p.stopOnce.Do(func() {
		close(p.done)
		if util.StopProcess(p.cmd.Process, p.exited, types.ShutdownTimeout) {
			slog.Warn("capture process killed after stop timeout")
		}
		p.cancel()
	})
	return nil
}

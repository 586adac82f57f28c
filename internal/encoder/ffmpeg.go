package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/ffmpeg"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// noiseFilter is the FFmpeg filter used when noise suppression is requested.
const noiseFilter = "afftdn"

// FFmpeg encodes PCM by piping it through an FFmpeg process and collecting
// the container it writes to stdout.
type FFmpeg struct {
	spec ffmpeg.EncodeSpec
	opts Options

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdin   io.WriteCloser
	stderr  *util.BoundedBuffer
	pending bytes.Buffer
	err     error
	started bool
	closed  bool

	segments   chan []byte
	stdoutDone chan struct{}
	closeCh    chan struct{}
	done       chan struct{}

	stopOnce  sync.Once
	closeOnce sync.Once
	writeErr  sync.Once
}

// NewFFmpeg creates an FFmpeg-backed encoder for the given muxer and codec.
//
//nolint:gocritic // hugeParam: spec is copied once per session
func NewFFmpeg(spec ffmpeg.EncodeSpec, opts Options) *FFmpeg {
	if opts.NoiseSuppression {
		spec.Filters = append(spec.Filters, noiseFilter)
	}
	return &FFmpeg{
		spec:       spec,
		opts:       opts,
		stderr:     util.NewStderrBuffer(),
		segments:   make(chan []byte, segmentBuffer),
		stdoutDone: make(chan struct{}),
		closeCh:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Args returns the FFmpeg arguments the encoder runs with.
func (f *FFmpeg) Args() []string {
	return ffmpeg.BuildEncodeArgs(f.opts.SampleRate, f.opts.Channels, f.spec)
}

// Start launches the FFmpeg process.
func (f *FFmpeg) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started || f.closed {
		return errors.New("ffmpeg encoder already used")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, ffmpeg.Binary, f.Args()...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return util.WrapError("create stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return util.WrapError("create stdout pipe", err)
	}
	cmd.Stderr = f.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return util.WrapError("start FFmpeg", err)
	}

	f.cmd = cmd
	f.cancel = cancel
	f.stdin = stdin
	f.started = true

	go f.readStdout(stdout)
	go f.run()

	slog.Info("encoder process started", "muxer", f.spec.Muxer, "codec", f.spec.Codec, "pid", cmd.Process.Pid)
	return nil
}

// Write feeds PCM to FFmpeg. Writes after Stop are dropped.
func (f *FFmpeg) Write(pcm []byte) error {
	f.mu.Lock()
	stdin := f.stdin
	f.mu.Unlock()

	if stdin == nil {
		return nil
	}
	if _, err := stdin.Write(pcm); err != nil {
		f.writeErr.Do(func() {
			slog.Warn("encoder write error", "error", err)
		})
		return util.WrapError("write to encoder", err)
	}
	return nil
}

// Segments returns the emitted segments.
func (f *FFmpeg) Segments() <-chan []byte {
	return f.segments
}

// Stop closes FFmpeg's stdin so it flushes and writes the container trailer.
func (f *FFmpeg) Stop() error {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		stdin := f.stdin
		f.stdin = nil
		f.mu.Unlock()

		if stdin != nil {
			if err := stdin.Close(); err != nil {
				slog.Warn("failed to close encoder stdin", "error", err)
			}
		}
	})
	return nil
}

// Close kills FFmpeg and abandons any output not yet emitted.
func (f *FFmpeg) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		started := f.started
		cancel := f.cancel
		f.mu.Unlock()

		close(f.closeCh)
		_ = f.Stop()
		if cancel != nil {
			cancel()
		}
		if !started {
			close(f.segments)
			close(f.done)
		}
	})
	return nil
}

// Active reports whether FFmpeg has started and its output is not yet final.
func (f *FFmpeg) Active() bool {
	select {
	case <-f.done:
		return false
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// Err returns the FFmpeg exit error, if any.
func (f *FFmpeg) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// readStdout collects encoded output until FFmpeg closes stdout, then reaps
// the process.
func (f *FFmpeg) readStdout(stdout io.Reader) {
	defer close(f.stdoutDone)

	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			f.mu.Lock()
			f.pending.Write(buf[:n])
			f.mu.Unlock()
		}
		if err != nil {
			break
		}
	}

	if err := f.cmd.Wait(); err != nil {
		msg := f.stderr.LastError(err.Error())
		f.mu.Lock()
		f.err = fmt.Errorf("ffmpeg exited: %s", msg)
		closed := f.closed
		f.mu.Unlock()
		if !closed {
			slog.Error("encoder process error", "error", msg)
		}
	}
}

func (f *FFmpeg) run() {
	defer close(f.segments)
	defer close(f.done)

	ticker := time.NewTicker(f.opts.SegmentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.emit()
		case <-f.stdoutDone:
			f.emit()
			return
		case <-f.closeCh:
			return
		}
	}
}

// emit sends the output collected since the previous segment.
func (f *FFmpeg) emit() {
	f.mu.Lock()
	if f.pending.Len() == 0 {
		f.mu.Unlock()
		return
	}
	segment := bytes.Clone(f.pending.Bytes())
	f.pending.Reset()
	f.mu.Unlock()

	select {
	case f.segments <- segment:
	case <-f.closeCh:
	}
}

package recording

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oszuidwest/zwfm-singcapture/internal/audio"
	"github.com/oszuidwest/zwfm-singcapture/internal/encoder"
	"github.com/oszuidwest/zwfm-singcapture/internal/format"
	"github.com/oszuidwest/zwfm-singcapture/internal/metrics"
	"github.com/oszuidwest/zwfm-singcapture/internal/normalize"
	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// Result is delivered once per accepted session. Exactly one of Artifact and
// Err is set; Message is the user-facing text for Err.
type Result struct {
	SessionID string
	Artifact  *normalize.Artifact
	Err       error
	Message   string
}

// CompletionFunc receives the outcome of a session.
type CompletionFunc func(Result)

// EncoderFactory builds an encoder for a negotiated label.
type EncoderFactory interface {
	New(label format.Label) (encoder.Encoder, error)
}

// Normalizer converts a finished recording to canonical WAV.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, label format.Label) *normalize.Artifact
	Close() error
}

// Config holds the session parameters.
type Config struct {
	Constraints  audio.Constraints
	Capabilities format.Capabilities
	// MaxElapsed is the tick count at which recording stops automatically.
	MaxElapsed   int
	TickInterval time.Duration
	StopTimeout  time.Duration
	SettleDelay  time.Duration
}

// DefaultConfig returns the standard one-minute session configuration.
func DefaultConfig() Config {
	return Config{
		Constraints:  audio.DefaultConstraints(),
		Capabilities: format.NewCapabilities(format.LabelWAV),
		MaxElapsed:   int(types.MaxDuration / time.Second),
		TickInterval: time.Second,
		StopTimeout:  types.StopTimeout,
		SettleDelay:  types.SettleDelay,
	}
}

// session is the single live recording. Fields other than acc and the
// channels are guarded by Controller.mu.
type session struct {
	id       string
	state    types.SessionState
	label    format.Label
	handle   *audio.Handle
	enc      encoder.Encoder
	acc      *Accumulator
	elapsed  int
	autoStop bool
	stopping bool
	// ackTimedOut is set once the stop wait has already expired.
	ackTimedOut bool
	startedAt   time.Time
	tickCancel  context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	finalized   chan struct{}
	pending     *Result

	onComplete  CompletionFunc
	deliverOnce sync.Once
}

func newSession(onComplete CompletionFunc) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:         uuid.NewString(),
		state:      types.StateIdle,
		acc:        NewAccumulator(),
		ctx:        ctx,
		cancel:     cancel,
		finalized:  make(chan struct{}),
		onComplete: onComplete,
	}
}

// deliver hands r to the completion callback at most once.
func (s *session) deliver(r Result) {
	s.deliverOnce.Do(func() {
		if s.onComplete == nil {
			return
		}
		r.SessionID = s.id
		s.onComplete(r)
	})
}

func failure(err error) Result {
	return Result{Err: err, Message: UserMessage(err)}
}

// Controller runs capture sessions one at a time.
type Controller struct {
	cfg        Config
	devices    *audio.Session
	encoders   EncoderFactory
	normalizer Normalizer
	metrics    *metrics.Metrics
	meter      *audio.Meter

	mu         sync.Mutex
	sess       *session
	prep       *preparing
	permission types.PermissionState
	lastError  string

	starting        atomic.Bool
	cleanupInFlight atomic.Bool
	closed          atomic.Bool
	starts          sync.WaitGroup
}

// preparing is a start that has been accepted but has not yet reached the
// recording state. Cancelling it aborts the settle wait and acquisition.
type preparing struct {
	cancel context.CancelFunc
}

// NewController creates an idle controller. Zero durations in cfg fall back
// to the defaults. m may be nil.
//
//nolint:gocritic // hugeParam: cfg is copied once at construction
func NewController(cfg Config, devices *audio.Session, encoders EncoderFactory, normalizer Normalizer, m *metrics.Metrics) *Controller {
	def := DefaultConfig()
	cfg.MaxElapsed = cmp.Or(cfg.MaxElapsed, def.MaxElapsed)
	cfg.TickInterval = cmp.Or(cfg.TickInterval, def.TickInterval)
	cfg.StopTimeout = cmp.Or(cfg.StopTimeout, def.StopTimeout)
	cfg.SettleDelay = cmp.Or(cfg.SettleDelay, def.SettleDelay)
	if cfg.Capabilities == nil {
		cfg.Capabilities = def.Capabilities
	}

	c := &Controller{
		cfg:        cfg,
		devices:    devices,
		encoders:   encoders,
		normalizer: normalizer,
		metrics:    m,
		meter:      audio.NewMeter(audio.DefaultQuietConfig()),
		sess:       newSession(nil),
		permission: types.PermissionPrompt,
	}
	m.SetState(types.StateIdle)
	return c
}

// StartRecording begins a new session and reports whether it was accepted.
// A start is rejected while a session is live, while a cleanup pass runs,
// or while another start is preparing. An accepted session always ends
// with exactly one call to onComplete.
func (c *Controller) StartRecording(ctx context.Context, onComplete CompletionFunc) bool {
	if c.closed.Load() {
		slog.Warn("start rejected: controller shut down")
		c.metrics.RecordOutcome(metrics.OutcomeRejected)
		return false
	}
	if c.cleanupInFlight.Load() {
		slog.Warn("start rejected: cleanup in progress")
		c.metrics.RecordOutcome(metrics.OutcomeRejected)
		return false
	}
	if state := c.State(); state != types.StateIdle {
		slog.Warn("start rejected: session active", "state", state)
		c.metrics.RecordOutcome(metrics.OutcomeRejected)
		return false
	}
	if !c.starting.CompareAndSwap(false, true) {
		slog.Warn("start rejected: another start is preparing")
		c.metrics.RecordOutcome(metrics.OutcomeRejected)
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &preparing{cancel: cancel}
	c.mu.Lock()
	c.prep = p
	c.mu.Unlock()

	c.starts.Go(func() {
		defer c.donePreparing(p)
		c.start(ctx, onComplete)
	})
	return true
}

// donePreparing releases the start's context once it no longer needs it.
func (c *Controller) donePreparing(p *preparing) {
	c.mu.Lock()
	if c.prep == p {
		c.prep = nil
	}
	c.mu.Unlock()
	p.cancel()
}

// abortStart ends a start that was cancelled before a session existed.
func (c *Controller) abortStart(onComplete CompletionFunc) {
	c.starting.Store(false)
	c.metrics.RecordOutcome(Kind(ErrCancelled))
	s := newSession(onComplete)
	slog.Info("start cancelled before acquiring microphone", "session_id", s.id)
	s.deliver(failure(ErrCancelled))
}

func (c *Controller) start(ctx context.Context, onComplete CompletionFunc) {
	// Release anything a previous session may still hold before opening
	// the device again.
	c.cleanupCurrent()

	select {
	case <-time.After(c.cfg.SettleDelay):
	case <-ctx.Done():
		c.abortStart(onComplete)
		return
	}

	s := newSession(onComplete)

	c.mu.Lock()
	// CleanupRecording cancels ctx under c.mu, so a teardown that raced the
	// settle wait is seen here before the session becomes visible.
	if ctx.Err() != nil {
		c.mu.Unlock()
		c.abortStart(onComplete)
		return
	}
	s.label = format.Negotiate(c.cfg.Capabilities)
	s.state = types.StateAcquiring
	c.sess = s
	constraints := c.cfg.Constraints
	c.mu.Unlock()
	c.starting.Store(false)
	c.metrics.SetState(types.StateAcquiring)

	slog.Info("acquiring microphone", "session_id", s.id, "format", s.label.String())

	handle, err := c.devices.Acquire(ctx, constraints)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			c.setPermission(types.PermissionDenied)
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		slog.Error("failed to acquire microphone", "session_id", s.id, "error", err)
		c.finishWith(s, failure(err))
		return
	}
	c.setPermission(types.PermissionGranted)
	if constraints.EchoCancellation {
		slog.Debug("echo cancellation requested; left to the capture device", "session_id", s.id)
	}

	enc, err := c.encoders.New(s.label)
	if err == nil {
		err = enc.Start()
	}
	if err != nil {
		c.devices.Release(handle)
		slog.Error("failed to start encoder", "session_id", s.id, "format", s.label.String(), "error", err)
		c.finishWith(s, failure(fmt.Errorf("%w: %w", ErrRecorderFault, err)))
		return
	}

	c.mu.Lock()
	if c.sess != s || s.state != types.StateAcquiring {
		// Torn down while the device was opening.
		c.mu.Unlock()
		_ = enc.Close()
		c.devices.Release(handle)
		return
	}
	tickCtx, tickCancel := context.WithCancel(s.ctx)
	s.handle = handle
	s.enc = enc
	s.state = types.StateRecording
	s.startedAt = time.Now()
	s.tickCancel = tickCancel
	c.lastError = ""
	c.mu.Unlock()

	c.metrics.SetState(types.StateRecording)
	c.metrics.RecordStarted()

	go c.pump(s, handle, enc)
	go c.collect(s, enc)
	go c.tick(tickCtx, s)

	slog.Info("recording started", "session_id", s.id, "format", s.label.String())
}

// StopRecording asks the live session to finish. It does nothing unless a
// session is recording.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	s := c.sess
	if s.state != types.StateRecording {
		c.mu.Unlock()
		return
	}
	s.state = types.StateStopping
	s.stopping = true
	s.tickCancel()
	enc := s.enc
	elapsed := s.elapsed
	c.mu.Unlock()

	c.metrics.SetState(types.StateStopping)
	slog.Info("stopping recording", "session_id", s.id, "elapsed", elapsed)

	if err := enc.Stop(); err != nil {
		slog.Warn("encoder stop request failed", "session_id", s.id, "error", err)
	}
	go c.finish(s, enc)
}

// CleanupRecording tears down whatever is live. It is safe at any time; a
// live session, or a start that is still preparing, receives ErrCancelled.
func (c *Controller) CleanupRecording() {
	c.cleanup(c.cancelPreparing())
}

// Shutdown cancels any preparing start, waits for in-flight starts and
// cleanup passes, and runs a final pass. Later starts are rejected. When it
// returns no session holds the microphone.
func (c *Controller) Shutdown() {
	c.closed.Store(true)
	c.cancelPreparing()
	c.starts.Wait()
	c.cleanupCurrent()
}

// cancelPreparing aborts a preparing start and returns the current session.
func (c *Controller) cancelPreparing() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prep != nil {
		c.prep.cancel()
	}
	return c.sess
}

// finish waits for the encoder to finalize, then converts the recording.
func (c *Controller) finish(s *session, enc encoder.Encoder) {
	timer := time.NewTimer(c.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.finalized:
	case <-timer.C:
		c.mu.Lock()
		s.ackTimedOut = true
		c.mu.Unlock()
		slog.Error("encoder did not finalize", "session_id", s.id, "timeout", c.cfg.StopTimeout)
		c.metrics.RecordStopAckTimeout()
		c.finishWith(s, failure(ErrStopTimeout))
		return
	}

	if err := enc.Err(); err != nil {
		c.finishWith(s, failure(fmt.Errorf("%w: %w", ErrRecorderFault, err)))
		return
	}

	c.mu.Lock()
	if c.sess != s || s.state != types.StateStopping {
		c.mu.Unlock()
		return
	}
	s.state = types.StateConverting
	c.mu.Unlock()
	c.metrics.SetState(types.StateConverting)

	segments, err := s.acc.Drain()
	if err != nil {
		slog.Warn("recording stopped without audio", "session_id", s.id)
		c.finishWith(s, failure(err))
		return
	}

	begin := time.Now()
	art := c.normalizer.Normalize(s.ctx, Assemble(segments), s.label)
	c.metrics.RecordConversion(time.Since(begin).Seconds())
	c.metrics.RecordArtifact(len(art.Data), art.Duration().Seconds(), art.Canonical)

	slog.Info("recording complete",
		"session_id", s.id,
		"segments", len(segments),
		"bytes", len(art.Data),
		"canonical", art.Canonical,
		"duration", art.Duration(),
		"recorded_for", time.Since(s.startedAt).Round(time.Millisecond))
	c.finishWith(s, Result{Artifact: art})
}

// finishWith records the session result and routes the session through
// cleanup, which delivers it.
func (c *Controller) finishWith(s *session, r Result) {
	c.mu.Lock()
	// A session already torn down by CleanupRecording was counted as
	// cancelled there.
	late := c.sess != s && s.pending == nil
	if s.pending == nil {
		s.pending = &r
	}
	if r.Err != nil && c.sess == s {
		c.lastError = r.Message
	}
	c.mu.Unlock()

	switch {
	case late:
	case r.Err == nil && r.Artifact.Canonical:
		c.metrics.RecordOutcome(metrics.OutcomeSuccess)
	case r.Err == nil:
		c.metrics.RecordOutcome(metrics.OutcomeFallback)
	default:
		c.metrics.RecordOutcome(Kind(r.Err))
	}

	for !c.cleanup(s) {
		time.Sleep(types.PollInterval)
	}
	s.deliver(c.result(s))
}

// fault ends a recording session whose encoder or stream failed.
func (c *Controller) fault(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s || s.state != types.StateRecording {
		c.mu.Unlock()
		return
	}
	s.state = types.StateStopping
	s.stopping = true
	s.tickCancel()
	c.mu.Unlock()

	if cause == nil {
		cause = errors.New("encoder stopped unexpectedly")
	}
	slog.Error("recorder fault", "session_id", s.id, "error", cause)
	c.finishWith(s, failure(fmt.Errorf("%w: %w", ErrRecorderFault, cause)))
}

// pump feeds captured PCM to the meter and the encoder.
func (c *Controller) pump(s *session, handle *audio.Handle, enc encoder.Encoder) {
	for pcm := range handle.PCM() {
		c.meter.Write(pcm)
		if err := enc.Write(pcm); err != nil {
			c.fault(s, err)
			return
		}
	}
	if !c.isStopping(s) {
		c.fault(s, errors.New("capture stream ended"))
	}
}

// collect appends encoder segments until the encoder finalizes.
func (c *Controller) collect(s *session, enc encoder.Encoder) {
	for seg := range enc.Segments() {
		s.acc.Append(seg)
	}
	close(s.finalized)

	if !c.isStopping(s) {
		c.fault(s, enc.Err())
	}
}

// tick advances the elapsed counter and stops the session at the ceiling.
// The automatic stop fires at most once per session.
func (c *Controller) tick(ctx context.Context, s *session) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.sess != s || s.state != types.StateRecording {
			c.mu.Unlock()
			return
		}
		if s.elapsed < c.cfg.MaxElapsed {
			s.elapsed++
		}
		fire := s.elapsed >= c.cfg.MaxElapsed && !s.autoStop
		if fire {
			s.autoStop = true
		}
		c.mu.Unlock()

		if fire {
			slog.Info("maximum recording length reached", "session_id", s.id, "elapsed", c.cfg.MaxElapsed)
			c.StopRecording()
			return
		}
	}
}

func (c *Controller) isStopping(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != s || s.stopping
}

func (c *Controller) result(s *session) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.pending != nil {
		return *s.pending
	}
	return failure(ErrCancelled)
}

func (c *Controller) setPermission(p types.PermissionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.permission = p
}

// State returns the current session state.
func (c *Controller) State() types.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.state
}

// SetDevice selects the input device used by subsequent sessions.
func (c *Controller) SetDevice(device string) {
	c.mu.Lock()
	c.cfg.Constraints.Device = device
	c.mu.Unlock()
}

// SetCapabilities replaces the label set negotiated by subsequent sessions.
func (c *Controller) SetCapabilities(caps format.Capabilities) {
	c.mu.Lock()
	c.cfg.Capabilities = caps
	c.mu.Unlock()
}

// Levels returns the current input levels.
func (c *Controller) Levels() types.AudioLevels {
	return c.meter.Levels()
}

// Status returns a snapshot of the controller for the web interface.
func (c *Controller) Status() types.CaptureStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	st := types.CaptureStatus{
		State:       s.state,
		Elapsed:     s.elapsed,
		MaxDuration: c.cfg.MaxElapsed,
		Permission:  c.permission,
		LastError:   c.lastError,
	}
	if s.state != types.StateIdle {
		st.SessionID = s.id
		st.Format = s.label.String()
		st.Segments = s.acc.Len()
	}
	return st
}

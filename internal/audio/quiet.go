package audio

import "time"

// QuietConfig holds the thresholds for quiet-input detection.
type QuietConfig struct {
	Threshold float64       // dB level below which input counts as quiet
	Duration  time.Duration // quiet time before the input is flagged
}

// DefaultQuietConfig flags input that stays below -50 dB for three seconds.
func DefaultQuietConfig() QuietConfig {
	return QuietConfig{Threshold: -50, Duration: 3 * time.Second}
}

// QuietDetector flags a microphone that produces no usable signal while
// recording, so the singer can be warned before the take ends with no audio.
type QuietDetector struct {
	cfg        QuietConfig
	quietStart time.Time
}

// NewQuietDetector creates a detector with the given thresholds.
func NewQuietDetector(cfg QuietConfig) *QuietDetector {
	return &QuietDetector{cfg: cfg}
}

// Update records the latest level and returns whether the input is flagged
// quiet and for how long it has been below the threshold.
func (d *QuietDetector) Update(db float64, now time.Time) (quiet bool, duration time.Duration) {
	if db >= d.cfg.Threshold {
		d.quietStart = time.Time{}
		return false, 0
	}
	if d.quietStart.IsZero() {
		d.quietStart = now
	}
	duration = now.Sub(d.quietStart)
	return duration >= d.cfg.Duration, duration
}

// Reset clears the detection state.
func (d *QuietDetector) Reset() {
	d.quietStart = time.Time{}
}

package audio

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
)

// LevelUpdateSamples is the number of samples before updating levels (~250ms at 44.1 kHz).
const LevelUpdateSamples = 11025

// Meter turns captured PCM into VU levels for the web interface.
type Meter struct {
	mu     sync.Mutex
	data   LevelData
	peak   *PeakHolder
	quiet  *QuietDetector
	levels types.AudioLevels
	now    func() time.Time
}

// NewMeter creates a meter with the given quiet-input thresholds.
func NewMeter(cfg QuietConfig) *Meter {
	m := &Meter{
		peak:  NewPeakHolder(),
		quiet: NewQuietDetector(cfg),
		now:   time.Now,
	}
	m.levels = silentLevels()
	return m
}

// Write accumulates a PCM buffer and refreshes the levels once enough
// samples have been seen.
func (m *Meter) Write(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ProcessSamples(pcm, &m.data)
	if m.data.SampleCount < LevelUpdateSamples {
		return
	}

	lv := CalculateLevels(&m.data)
	now := m.now()
	quiet, quietFor := m.quiet.Update(lv.RMS, now)
	m.levels = types.AudioLevels{
		Level:    lv.RMS,
		Peak:     lv.Peak,
		PeakHold: m.peak.Update(lv.Peak, now),
		Clip:     lv.Clip,
		Quiet:    quiet,
	}
	if quiet {
		m.levels.QuietDuration = quietFor.Seconds()
	}
	m.data.Reset()
}

// Levels returns the most recent levels.
func (m *Meter) Levels() types.AudioLevels {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels
}

// Reset clears all meter state.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.Reset()
	m.peak.Reset()
	m.quiet.Reset()
	m.levels = silentLevels()
}

func silentLevels() types.AudioLevels {
	return types.AudioLevels{Level: MinDB, Peak: MinDB, PeakHold: MinDB}
}

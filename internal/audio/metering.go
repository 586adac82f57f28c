package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// ClipThreshold is slightly below max to catch near-clips.
	ClipThreshold int16 = 32760
)

// LevelData holds raw sample accumulator data for level calculation.
type LevelData struct {
	SumSquares  float64
	Peak        float64
	ClipCount   int
	SampleCount int
}

// ProcessSamples accumulates level data from S16LE PCM. Interleaved
// channels are folded into a single meter.
func ProcessSamples(buf []byte, data *LevelData) {
	for i := 0; i+1 < len(buf); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buf[i:]))
		v := float64(sample)

		data.SumSquares += v * v
		if abs := math.Abs(v); abs > data.Peak {
			data.Peak = abs
		}
		if sample >= ClipThreshold || sample <= -ClipThreshold {
			data.ClipCount++
		}
		data.SampleCount++
	}
}

// Levels contains calculated audio levels in dB.
type Levels struct {
	RMS  float64
	Peak float64
	Clip int
}

// CalculateLevels computes RMS and peak levels from accumulated sample data.
func CalculateLevels(data *LevelData) Levels {
	if data.SampleCount == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	rms := math.Sqrt(data.SumSquares / float64(data.SampleCount))

	// Convert to dB (reference: 32768 for 16-bit audio)
	db := 20 * math.Log10(rms/32768.0)
	peakDB := 20 * math.Log10(data.Peak/32768.0)

	return Levels{
		RMS:  max(db, MinDB),
		Peak: max(peakDB, MinDB),
		Clip: data.ClipCount,
	}
}

// Reset clears accumulators for the next measurement period.
func (d *LevelData) Reset() {
	*d = LevelData{}
}

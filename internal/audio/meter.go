// Package audio holds the capture-side primitives of a call: the energy
// meter sampled by the tick loop, the per-turn recorder and WAV helpers.
package audio

import (
	"math"
	"sync/atomic"
)

// Meter holds the RMS of the most recently captured buffer in [0,1]. The
// capture callback writes it and the session tick reads it.
type Meter struct {
	bits atomic.Uint64
}

// Level returns the last measured energy.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Set stores an energy value, clamped to [0,1].
func (m *Meter) Set(v float64) {
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.bits.Store(math.Float64bits(v))
}

// RMSInt16 returns the normalised root mean square of 16-bit samples.
func RMSInt16(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

package vad

import (
	"time"

	"github.com/voice-coach-lab/internal/config"
)

// NoiseTracker keeps an exponentially smoothed estimate of ambient energy
// and derives the speech threshold from it. The floor is only fed while the
// detector is idle.
type NoiseTracker struct {
	cfg        config.VAD
	floor      float64
	lastUpdate time.Time
}

func NewNoiseTracker(cfg config.VAD) *NoiseTracker {
	n := &NoiseTracker{cfg: cfg}
	n.Reset()
	return n
}

// Reset restores the initial floor and forgets the update cadence.
func (n *NoiseTracker) Reset() {
	n.floor = clamp(n.cfg.NoiseFloorInitial, n.cfg.NoiseFloorMin, n.cfg.NoiseFloorMax)
	n.lastUpdate = time.Time{}
}

// Observe folds one energy sample into the floor. Calls arriving sooner than
// NoiseFloorUpdate after the previous accepted update are ignored. Loud
// samples are capped so a burst cannot drag the floor up.
func (n *NoiseTracker) Observe(energy float64, now time.Time) bool {
	if !n.lastUpdate.IsZero() && now.Sub(n.lastUpdate) < n.cfg.NoiseFloorUpdate {
		return false
	}
	n.lastUpdate = now
	capped := energy
	if limit := n.floor*3 + 0.01; capped > limit {
		capped = limit
	}
	if capped < 0 {
		capped = 0
	}
	a := n.cfg.NoiseAlpha
	n.floor = clamp(n.floor*(1-a)+capped*a, n.cfg.NoiseFloorMin, n.cfg.NoiseFloorMax)
	return true
}

// Floor returns the current noise floor.
func (n *NoiseTracker) Floor() float64 { return n.floor }

// Threshold returns the speech detection threshold for the current floor.
func (n *NoiseTracker) Threshold() float64 {
	return clamp(n.floor*n.cfg.ThresholdMult, n.cfg.ThresholdMin, n.cfg.ThresholdMax)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

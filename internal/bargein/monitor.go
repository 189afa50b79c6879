// Package bargein decides when the user is really talking over AI audio.
package bargein

import (
	"time"

	"github.com/voice-coach-lab/internal/config"
)

// Monitor tracks one stretch of AI speech. Energy is ignored during the
// cooldown after playback starts; after that the input must stay above the
// raised threshold for MinHold without a single drop.
type Monitor struct {
	cfg       config.BargeIn
	active    bool
	aiStart   time.Time
	holdStart time.Time
}

func NewMonitor(cfg config.BargeIn) *Monitor {
	return &Monitor{cfg: cfg}
}

// Start arms the monitor at the moment AI audio begins.
func (m *Monitor) Start(now time.Time) {
	m.active = true
	m.aiStart = now
	m.holdStart = time.Time{}
}

// Stop disarms the monitor.
func (m *Monitor) Stop() {
	m.active = false
	m.aiStart = time.Time{}
	m.holdStart = time.Time{}
}

// Active reports whether AI speech is being watched.
func (m *Monitor) Active() bool { return m.active }

// Step evaluates one energy sample against the live VAD threshold and
// reports a barge-in. A trigger disarms the monitor.
func (m *Monitor) Step(energy, threshold float64, now time.Time) bool {
	if !m.active || now.Sub(m.aiStart) <= m.cfg.Cooldown {
		return false
	}
	if energy <= threshold*m.cfg.ExtraMult {
		m.holdStart = time.Time{}
		return false
	}
	if m.holdStart.IsZero() {
		m.holdStart = now
	}
	if now.Sub(m.holdStart) < m.cfg.MinHold {
		return false
	}
	m.Stop()
	return true
}

// Package vad segments a stream of energy samples into speech turns using an
// adaptive threshold, a silence hangover and a minimum speech duration.
package vad

import (
	"time"

	"github.com/voice-coach-lab/internal/config"
)

// State is the detector classification.
type State int

const (
	Idle State = iota
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

// EventKind identifies a detector transition.
type EventKind int

const (
	// TurnStarted fires on idle -> speaking.
	TurnStarted EventKind = iota + 1
	// TurnEnded fires on speaking -> idle when the segment is long enough.
	TurnEnded
	// TurnDiscarded fires on speaking -> idle for a segment that was too short.
	TurnDiscarded
)

func (k EventKind) String() string {
	switch k {
	case TurnStarted:
		return "turn_started"
	case TurnEnded:
		return "turn_ended"
	case TurnDiscarded:
		return "turn_discarded"
	}
	return "none"
}

// Sample is one energy reading taken on a tick.
type Sample struct {
	Energy float64
	At     time.Time
}

// Event is emitted by Step on a state transition.
type Event struct {
	Kind     EventKind
	At       time.Time
	Duration time.Duration
}

// Detector is the voice activity state machine. It is not safe for
// concurrent use; the call session drives it from its tick loop.
type Detector struct {
	cfg         config.VAD
	noise       *NoiseTracker
	state       State
	speechStart time.Time
	lastVoice   time.Time
}

func NewDetector(cfg config.VAD, noise *NoiseTracker) *Detector {
	if noise == nil {
		noise = NewNoiseTracker(cfg)
	}
	return &Detector{cfg: cfg, noise: noise}
}

// Noise exposes the tracker backing the threshold.
func (d *Detector) Noise() *NoiseTracker { return d.noise }

// State returns the current classification.
func (d *Detector) State() State { return d.state }

// Threshold returns the live speech threshold.
func (d *Detector) Threshold() float64 { return d.noise.Threshold() }

// Step advances the machine by one sample. allowStart gates the idle ->
// speaking transition (muted mic, AI echo suppression); it does not affect
// an already running turn.
func (d *Detector) Step(s Sample, allowStart bool) (Event, bool) {
	threshold := d.noise.Threshold()
	loud := s.Energy > threshold

	if d.state == Idle {
		d.noise.Observe(s.Energy, s.At)
		if !loud || !allowStart {
			return Event{}, false
		}
		d.state = Speaking
		d.speechStart = s.At
		d.lastVoice = s.At
		return Event{Kind: TurnStarted, At: s.At}, true
	}

	if loud {
		d.lastVoice = s.At
		return Event{}, false
	}
	if s.At.Sub(d.lastVoice) < d.cfg.Silence {
		return Event{}, false
	}

	dur := d.lastVoice.Sub(d.speechStart)
	d.state = Idle
	d.speechStart = time.Time{}
	d.lastVoice = time.Time{}
	if dur < d.cfg.MinSpeech {
		return Event{Kind: TurnDiscarded, At: s.At, Duration: dur}, true
	}
	return Event{Kind: TurnEnded, At: s.At, Duration: dur}, true
}

// Abort drops a running turn without emitting an event. Used when AI audio
// starts so the recorder never keeps the assistant's own voice.
func (d *Detector) Abort() bool {
	was := d.state == Speaking
	d.state = Idle
	d.speechStart = time.Time{}
	d.lastVoice = time.Time{}
	return was
}

// Reset aborts any turn and restores the noise floor.
func (d *Detector) Reset() {
	d.Abort()
	d.noise.Reset()
}

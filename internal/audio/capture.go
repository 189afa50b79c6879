package audio

import (
	"sync/atomic"
	"time"
)

// Capture fans one microphone feed into the energy meter and the turn
// recorder. A disabled capture behaves like a muted track: the stream keeps
// running but delivers silence.
type Capture struct {
	meter    Meter
	recorder *Recorder
	enabled  atomic.Bool
	silence  []int16
}

func NewCapture(sampleRate int) *Capture {
	c := &Capture{recorder: NewRecorder(sampleRate)}
	c.enabled.Store(true)
	return c
}

// Write is the capture callback.
func (c *Capture) Write(samples []int16) {
	if !c.enabled.Load() {
		if cap(c.silence) < len(samples) {
			c.silence = make([]int16, len(samples))
		}
		samples = c.silence[:len(samples)]
	}
	c.meter.Set(RMSInt16(samples))
	c.recorder.Append(samples)
}

// Level returns the latest energy sample.
func (c *Capture) Level() float64 { return c.meter.Level() }

// SetEnabled toggles the track without tearing down the stream.
func (c *Capture) SetEnabled(on bool) {
	c.enabled.Store(on)
	if !on {
		c.meter.Set(0)
	}
}

func (c *Capture) StartRecording(now time.Time) { c.recorder.Start(now) }

func (c *Capture) StopRecording() *RecordedTurn { return c.recorder.Stop() }

func (c *Capture) DiscardRecording() bool { return c.recorder.Discard() }

func (c *Capture) Recording() bool { return c.recorder.Recording() }

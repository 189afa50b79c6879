package vad

import (
	"math/rand"
	"testing"
	"time"

	"github.com/voice-coach-lab/internal/config"
)

const step = 10 * time.Millisecond

// feeder drives a detector with a synthetic energy envelope at a fixed step.
type feeder struct {
	d      *Detector
	now    time.Time
	events []Event
}

func newFeeder() *feeder {
	return &feeder{d: NewDetector(config.Default().VAD, nil), now: time.Unix(1000, 0)}
}

// run feeds energy e for dur (inclusive of the starting sample).
func (f *feeder) run(e float64, dur time.Duration) {
	end := f.now.Add(dur)
	for !f.now.After(end) {
		if ev, ok := f.d.Step(Sample{Energy: e, At: f.now}, true); ok {
			f.events = append(f.events, ev)
		}
		f.now = f.now.Add(step)
	}
}

func (f *feeder) count(k EventKind) int {
	n := 0
	for _, ev := range f.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

func TestThresholdBounds(t *testing.T) {
	cfg := config.Default().VAD
	n := NewNoiseTracker(cfg)
	r := rand.New(rand.NewSource(7))
	now := time.Unix(0, 0)
	for i := 0; i < 5000; i++ {
		now = now.Add(time.Duration(r.Intn(400)) * time.Millisecond)
		n.Observe(r.Float64(), now)
		if f := n.Floor(); f < cfg.NoiseFloorMin || f > cfg.NoiseFloorMax {
			t.Fatalf("floor out of range at %d: %v", i, f)
		}
		if th := n.Threshold(); th < cfg.ThresholdMin || th > cfg.ThresholdMax {
			t.Fatalf("threshold out of range at %d: %v", i, th)
		}
	}
}

func TestNoiseFloorRateLimited(t *testing.T) {
	n := NewNoiseTracker(config.Default().VAD)
	now := time.Unix(0, 0)
	if !n.Observe(0.02, now) {
		t.Fatalf("first observation should update")
	}
	if n.Observe(0.02, now.Add(100*time.Millisecond)) {
		t.Fatalf("update inside 250ms must be ignored")
	}
	if !n.Observe(0.02, now.Add(250*time.Millisecond)) {
		t.Fatalf("update at 250ms should apply")
	}
}

func TestNoiseFloorCapsBursts(t *testing.T) {
	n := NewNoiseTracker(config.Default().VAD)
	before := n.Floor()
	n.Observe(1.0, time.Unix(0, 0))
	// capped sample is floor*3+0.01 so one step moves by at most 0.1*(2*floor+0.01)
	if got, max := n.Floor(), before+0.1*(2*before+0.01); got > max+1e-12 {
		t.Fatalf("burst moved floor too far: %v > %v", got, max)
	}
}

func TestShortBurstDiscarded(t *testing.T) {
	f := newFeeder()
	f.run(0, 200*time.Millisecond)
	f.run(0.5, 300*time.Millisecond)
	f.run(0, 2*time.Second)
	if f.count(TurnStarted) != 1 || f.count(TurnDiscarded) != 1 || f.count(TurnEnded) != 0 {
		t.Fatalf("unexpected events: %+v", f.events)
	}
	if f.d.State() != Idle {
		t.Fatalf("detector should be idle")
	}
}

func TestPauseShorterThanHangoverKeepsTurn(t *testing.T) {
	f := newFeeder()
	f.run(0.5, 600*time.Millisecond)
	f.run(0, 980*time.Millisecond)
	f.run(0.5, 600*time.Millisecond)
	f.run(0, 2*time.Second)
	if f.count(TurnStarted) != 1 || f.count(TurnEnded) != 1 {
		t.Fatalf("1000ms pause should not split the turn: %+v", f.events)
	}
	last := f.events[len(f.events)-1]
	if last.Duration < 2*time.Second {
		t.Fatalf("turn should span both bursts, got %v", last.Duration)
	}
}

func TestLongPauseEndsTurn(t *testing.T) {
	f := newFeeder()
	f.run(0.5, 600*time.Millisecond)
	f.run(0, 1580*time.Millisecond)
	f.run(0.5, 600*time.Millisecond)
	f.run(0, 2*time.Second)
	if f.count(TurnStarted) != 2 || f.count(TurnEnded) != 2 {
		t.Fatalf("1600ms pause should split the turn: %+v", f.events)
	}
}

func TestStartGateBlocksOnlyNewTurns(t *testing.T) {
	d := NewDetector(config.Default().VAD, nil)
	now := time.Unix(0, 0)
	if _, ok := d.Step(Sample{Energy: 0.5, At: now}, false); ok {
		t.Fatalf("gated start must not fire")
	}
	if _, ok := d.Step(Sample{Energy: 0.5, At: now.Add(step)}, true); !ok {
		t.Fatalf("expected turn start when allowed")
	}
	floor := d.Noise().Floor()
	for i := 2; i < 50; i++ {
		d.Step(Sample{Energy: 0.5, At: now.Add(time.Duration(i) * step)}, false)
	}
	if d.State() != Speaking {
		t.Fatalf("running turn must continue when start is gated")
	}
	if d.Noise().Floor() != floor {
		t.Fatalf("floor must not adapt while speaking")
	}
	if !d.Abort() || d.State() != Idle {
		t.Fatalf("abort should drop the running turn")
	}
}

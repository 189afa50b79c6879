package bargein

import (
	"testing"
	"time"

	"github.com/voice-coach-lab/internal/config"
)

const threshold = 0.02

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestLoudInputInsideCooldownIgnored(t *testing.T) {
	m := NewMonitor(config.Default().BargeIn)
	t0 := time.Unix(0, 0)
	m.Start(t0)
	for i := 0; i <= 900; i++ {
		if m.Step(0.5, threshold, t0.Add(ms(i))) {
			t.Fatalf("barge-in triggered at %dms inside cooldown", i)
		}
	}
	// a burst confined to the cooldown leaves nothing behind
	if m.Step(0.001, threshold, t0.Add(ms(901))) {
		t.Fatalf("quiet sample must not trigger")
	}
}

func TestSustainedLoudAfterCooldownTriggers(t *testing.T) {
	m := NewMonitor(config.Default().BargeIn)
	t0 := time.Unix(0, 0)
	m.Start(t0)
	fired := -1
	for i := 901; i <= 1300; i++ {
		if m.Step(0.5, threshold, t0.Add(ms(i))) {
			fired = i
			break
		}
	}
	if fired != 901+240 {
		t.Fatalf("expected trigger at 1141ms, got %d", fired)
	}
	if m.Active() {
		t.Fatalf("trigger should disarm the monitor")
	}
}

func TestDropResetsHold(t *testing.T) {
	m := NewMonitor(config.Default().BargeIn)
	t0 := time.Unix(0, 0)
	m.Start(t0)
	for i := 1000; i < 1200; i += 10 {
		if m.Step(0.5, threshold, t0.Add(ms(i))) {
			t.Fatalf("early trigger at %d", i)
		}
	}
	m.Step(threshold*1.5, threshold, t0.Add(ms(1200)))
	for i := 1210; i < 1440; i += 10 {
		if m.Step(0.5, threshold, t0.Add(ms(i))) {
			t.Fatalf("hold was not reset by the drop, triggered at %d", i)
		}
	}
	if !m.Step(0.5, threshold, t0.Add(ms(1450))) {
		t.Fatalf("expected trigger 240ms after the hold restarted")
	}
}

func TestInactiveMonitorNeverTriggers(t *testing.T) {
	m := NewMonitor(config.Default().BargeIn)
	if m.Step(1, threshold, time.Now()) {
		t.Fatalf("inactive monitor triggered")
	}
}

package config

import (
	"testing"
	"time"
)

func TestDefaultsMatchPipelineConstants(t *testing.T) {
	c := Default()
	if c.VAD.Silence != 1400*time.Millisecond || c.VAD.MinSpeech != 420*time.Millisecond {
		t.Fatalf("unexpected vad timings: %+v", c.VAD)
	}
	if c.Turns.MergeWindow != 1600*time.Millisecond || c.Turns.DedupeWindow != 2200*time.Millisecond {
		t.Fatalf("unexpected turn windows: %+v", c.Turns)
	}
	if c.BargeIn.Cooldown != 900*time.Millisecond || c.BargeIn.MinHold != 240*time.Millisecond || c.BargeIn.ExtraMult != 1.55 {
		t.Fatalf("unexpected barge-in settings: %+v", c.BargeIn)
	}
	if c.Playback.ReadyTimeout != 2500*time.Millisecond {
		t.Fatalf("unexpected ready timeout: %v", c.Playback.ReadyTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VAD_SILENCE_MS", "900")
	t.Setenv("COACH_BASE_URL", "http://coach.local/")
	t.Setenv("COACH_TURN_PATH", "turn")
	t.Setenv("SAVE_AUDIO_ENABLED", "true")
	t.Setenv("SAVE_AUDIO_DIR", "/tmp/turns")
	t.Setenv("BARGE_EXTRA_MULT", "not-a-number")

	c := Load()
	if c.VAD.Silence != 900*time.Millisecond {
		t.Fatalf("silence override: got %v", c.VAD.Silence)
	}
	if got := c.Backend.TurnURL(); got != "http://coach.local/turn" {
		t.Fatalf("turn url: got %q", got)
	}
	if c.Archive.Dir != "/tmp/turns" {
		t.Fatalf("archive dir: got %q", c.Archive.Dir)
	}
	if c.BargeIn.ExtraMult != 1.55 {
		t.Fatalf("invalid float should fall back, got %v", c.BargeIn.ExtraMult)
	}
}

func TestAbsolutePathWins(t *testing.T) {
	b := Backend{BaseURL: "http://a", GreetingPath: "https://b/greet"}
	if got := b.GreetingURL(); got != "https://b/greet" {
		t.Fatalf("got %q", got)
	}
}

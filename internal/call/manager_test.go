package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voice-coach-lab/internal/config"
)

func TestManagerAllowsOneActiveCall(t *testing.T) {
	cfg := config.Default()
	cfg.ConnectChime = false
	cfg.Tick = 5 * time.Millisecond
	deps := Deps{
		Mic:     &fakeMic{stream: newFakeStream()},
		Backend: newFakeBackend(),
		Output:  newFakeOutput(),
	}
	m := NewManager(cfg, deps)
	got := make(chan Snapshot, 64)
	m.Subscribe(func(s Snapshot) {
		select {
		case got <- s:
		default:
		}
	})

	first, err := m.Start(context.Background(), "conv")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := m.Start(context.Background(), "conv"); !errors.Is(err, ErrCallActive) {
		t.Fatalf("second start should be refused, got %v", err)
	}
	select {
	case s := <-got:
		if s.CallID != first.ID().CallID {
			t.Fatalf("subscriber got foreign snapshot")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never notified")
	}

	if !m.End() {
		t.Fatalf("end should report an active call")
	}
	if m.End() {
		t.Fatalf("second end should be a no-op")
	}

	// the fake stream is reused, which is fine for a fresh session
	second, err := m.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer m.End()
	if second.ID().CallID == first.ID().CallID {
		t.Fatalf("new call should get a new id")
	}
	if second.ID().DeviceID != first.ID().DeviceID {
		t.Fatalf("device id should be stable across calls")
	}
	if snap, ok := m.Snapshot(); !ok || snap.CallID != second.ID().CallID {
		t.Fatalf("manager snapshot should follow the current call")
	}
}

package call

import (
	"context"
	"sync"

	"github.com/voice-coach-lab/internal/config"
)

// Manager enforces a single active call and fans snapshots of whichever
// call is current out to subscribers.
type Manager struct {
	cfg      config.Config
	deps     Deps
	deviceID string

	mu        sync.Mutex
	cur       *Session
	listeners []func(Snapshot)
}

func NewManager(cfg config.Config, deps Deps) *Manager {
	return &Manager{cfg: cfg, deps: deps, deviceID: cfg.DeviceID}
}

// Subscribe registers fn for snapshots of every call started afterwards.
func (m *Manager) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start begins a new call unless one is active.
func (m *Manager) Start(ctx context.Context, conversationID string) (*Session, error) {
	m.mu.Lock()
	if m.cur != nil && live(m.cur) {
		m.mu.Unlock()
		return nil, ErrCallActive
	}
	s := NewSession(m.cfg, m.deps, m.deviceID, conversationID)
	// keep the device id stable across calls
	m.deviceID = s.ID().DeviceID
	for _, fn := range m.listeners {
		s.OnChange(fn)
	}
	m.cur = s
	m.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// End ends the current call, if any.
func (m *Manager) End() bool {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return false
	}
	active := live(s)
	s.End()
	return active
}

// live reports whether s has not finished tearing down. A session that is
// still acquiring its microphone counts as live.
func live(s *Session) bool {
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// Current returns the most recent call, which may have ended.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Snapshot returns the state of the current call.
func (m *Manager) Snapshot() (Snapshot, bool) {
	s := m.Current()
	if s == nil {
		return Snapshot{Phase: PhaseIdle, Elapsed: FormatElapsed(0)}, false
	}
	return s.Snapshot(), true
}

// Package calltest has quiet stand-ins for the call collaborators, for
// packages that drive a call.Manager in tests.
package calltest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/coach"
	"github.com/voice-coach-lab/internal/config"
	"github.com/voice-coach-lab/internal/playback"
)

// Stream is a silent microphone stream.
type Stream struct {
	*audio.Capture
	Closed atomic.Bool
}

func (s *Stream) Close() error {
	s.Closed.Store(true)
	return nil
}

// Mic hands out silent streams, or Err when set.
type Mic struct {
	Err    error
	Opened atomic.Int32
}

func (m *Mic) Open(ctx context.Context) (call.Stream, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.Opened.Add(1)
	return &Stream{Capture: audio.NewCapture(16000)}, nil
}

// Backend hears nothing and says nothing.
type Backend struct{}

func (Backend) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	return "", nil
}

func (Backend) Turn(ctx context.Context, id coach.Identity, transcript string) (coach.Reply, error) {
	return coach.Reply{}, nil
}

func (Backend) Greeting(ctx context.Context, id coach.Identity) (coach.Reply, error) {
	return coach.Reply{}, nil
}

// Output finishes every item immediately.
type Output struct{}

func (Output) Reset() {}

func (Output) Load(item playback.Item) (<-chan struct{}, error) {
	ch := make(chan struct{})
	close(ch)
	return ch, nil
}

func (Output) Start() (<-chan error, error) {
	ch := make(chan error, 1)
	ch <- nil
	return ch, nil
}

// Manager returns a manager over the quiet collaborators with a fast tick
// and no connect chime.
func Manager(mic *Mic) *call.Manager {
	if mic == nil {
		mic = &Mic{}
	}
	cfg := config.Default()
	cfg.ConnectChime = false
	cfg.Tick = 5 * time.Millisecond
	return call.NewManager(cfg, call.Deps{Mic: mic, Backend: Backend{}, Output: Output{}})
}

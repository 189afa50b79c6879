// Package device binds the call engine to local audio hardware through
// PortAudio: a capture stream for the microphone and a blocking output
// stream for the speaker.
package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/logging"
)

// Init must be called once before streams are opened. The returned func
// terminates PortAudio.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Microphone opens the default input device, mono.
type Microphone struct {
	SampleRate      int
	FramesPerBuffer int
}

func (m Microphone) Open(ctx context.Context) (call.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]int16, m.FramesPerBuffer)
	st, err := portaudio.OpenDefaultStream(1, 0, float64(m.SampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	ms := &micStream{Capture: audio.NewCapture(m.SampleRate), st: st, buf: buf}
	ms.wg.Add(1)
	go ms.loop()
	logging.Infow("microphone opened", "sample_rate", m.SampleRate, "frames", len(buf))
	return ms, nil
}

type micStream struct {
	*audio.Capture
	st     *portaudio.Stream
	buf    []int16
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup
}

func (m *micStream) loop() {
	defer m.wg.Done()
	for !m.closed.Load() {
		if err := m.st.Read(); err != nil {
			if m.closed.Load() {
				return
			}
			// overflow is routine on slow hosts
			logging.Debugw("microphone read", "err", err)
			continue
		}
		m.Write(m.buf)
	}
}

// Close stops the hardware stream. Safe to call more than once.
func (m *micStream) Close() error {
	var err error
	m.once.Do(func() {
		m.closed.Store(true)
		_ = m.st.Stop()
		m.wg.Wait()
		err = m.st.Close()
		logging.Infow("microphone released")
	})
	return err
}

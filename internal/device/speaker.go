package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/voice-coach-lab/internal/logging"
	"github.com/voice-coach-lab/internal/playback"
)

// Sink accepts one buffer of mono PCM and blocks until the device took it.
type Sink interface {
	Write(frame []int16) error
	Frames() int
}

// Speaker plays decoded items on a Sink. It implements playback.Output.
type Speaker struct {
	rate int
	sink Sink

	mu     sync.Mutex
	pcm    []int16
	loaded bool
	stop   chan struct{}
	done   chan struct{}
}

var errNotLoaded = errors.New("speaker: nothing loaded")

func NewSpeaker(sink Sink, rate int) *Speaker {
	return &Speaker{sink: sink, rate: rate}
}

// Reset stops the running item and waits for the writer to exit.
func (s *Speaker) Reset() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.pcm, s.loaded = nil, false
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Load decodes the item. Decoding is synchronous so the ready channel is
// already closed on return.
func (s *Speaker) Load(item playback.Item) (<-chan struct{}, error) {
	pcm, err := Decode(item, s.rate)
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("speaker: %q decoded to no samples", item.Label)
	}
	s.mu.Lock()
	s.pcm, s.loaded = pcm, true
	s.mu.Unlock()
	ready := make(chan struct{})
	close(ready)
	return ready, nil
}

func (s *Speaker) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil, errNotLoaded
	}
	if s.stop != nil {
		return nil, errors.New("speaker: already playing")
	}
	stop, done := make(chan struct{}), make(chan struct{})
	s.stop, s.done = stop, done
	res := make(chan error, 1)
	go s.write(s.pcm, stop, done, res)
	return res, nil
}

func (s *Speaker) write(pcm []int16, stop, done chan struct{}, res chan<- error) {
	defer close(done)
	n := s.sink.Frames()
	frame := make([]int16, n)
	for off := 0; off < len(pcm); off += n {
		select {
		case <-stop:
			return
		default:
		}
		end := off + n
		if end > len(pcm) {
			end = len(pcm)
		}
		k := copy(frame, pcm[off:end])
		for i := k; i < n; i++ {
			frame[i] = 0
		}
		if err := s.sink.Write(frame); err != nil {
			logging.Warnw("speaker write failed", "err", err)
			res <- err
			return
		}
	}
	res <- nil
}

// PortAudioSink is the default output device, mono.
type PortAudioSink struct {
	st  *portaudio.Stream
	buf []int16
}

// OpenSink opens and starts the default output stream.
func OpenSink(sampleRate, framesPerBuffer int) (*PortAudioSink, error) {
	buf := make([]int16, framesPerBuffer)
	st, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := st.Start(); err != nil {
		st.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &PortAudioSink{st: st, buf: buf}, nil
}

func (p *PortAudioSink) Frames() int { return len(p.buf) }

func (p *PortAudioSink) Write(frame []int16) error {
	copy(p.buf, frame)
	return p.st.Write()
}

func (p *PortAudioSink) Close() error {
	_ = p.st.Stop()
	return p.st.Close()
}

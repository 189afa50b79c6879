package device

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/playback"
)

func TestDecodeWAVDownmixesAndResamples(t *testing.T) {
	// stereo 8kHz, left 1000 right 3000
	pcm := make([]int16, 0, 1600)
	for i := 0; i < 800; i++ {
		pcm = append(pcm, 1000, 3000)
	}
	item := playback.Item{Audio: audio.BuildWAV(audio.PCM16(pcm), 8000, 2, 16), MIME: "audio/wav"}

	out, err := Decode(item, 16000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1600 {
		t.Fatalf("expected 1600 samples after resample, got %d", len(out))
	}
	if out[10] != 2000 {
		t.Fatalf("expected downmixed 2000, got %d", out[10])
	}
}

func TestDecodeChime(t *testing.T) {
	out, err := Decode(playback.Item{Audio: audio.ConnectChime(16000)}, 16000)
	if err != nil {
		t.Fatalf("decode chime: %v", err)
	}
	if len(out) < 16000*3/10 {
		t.Fatalf("chime too short: %d samples", len(out))
	}
}

func TestDecodeRejectsUnknown(t *testing.T) {
	_, err := Decode(playback.Item{Audio: []byte("hello world"), MIME: "text/plain"}, 16000)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := Decode(playback.Item{Audio: []byte{0xFF, 0xFB, 0x00}, MIME: "audio/mpeg"}, 16000); err == nil {
		t.Fatalf("truncated mp3 should fail")
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3}
	if got := Resample(in, 16000, 16000); len(got) != 3 {
		t.Fatalf("identity resample changed length")
	}
}

type fakeSink struct {
	mu     sync.Mutex
	writes int
	block  chan struct{}
	fail   error
}

func (f *fakeSink) Frames() int { return 100 }

func (f *fakeSink) Write(frame []int16) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return f.fail
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func wavItem(samples int) playback.Item {
	return playback.Item{Audio: audio.BuildWAV(audio.PCM16(make([]int16, samples)), 16000, 1, 16), MIME: "audio/wav"}
}

func TestSpeakerPlaysToEnd(t *testing.T) {
	sink := &fakeSink{}
	sp := NewSpeaker(sink, 16000)
	res, err := playback.PlayItem(t.Context(), sp, wavItem(250), time.Second, time.Second)
	if err != nil || res != playback.Ended {
		t.Fatalf("expected ended, got %v %v", res, err)
	}
	if sink.count() != 3 {
		t.Fatalf("expected 3 frames written, got %d", sink.count())
	}
}

func TestSpeakerResetStopsWriter(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	sp := NewSpeaker(sink, 16000)
	if _, err := sp.Load(wavItem(1000)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := sp.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(sink.block)
	}()
	sp.Reset()
	if n := sink.count(); n > 1 {
		t.Fatalf("writer kept going after reset: %d frames", n)
	}
	if _, err := sp.Start(); err == nil {
		t.Fatalf("start after reset should need a new load")
	}
}

func TestSpeakerSurfacesSinkError(t *testing.T) {
	sink := &fakeSink{fail: errors.New("device gone")}
	sp := NewSpeaker(sink, 16000)
	res, err := playback.PlayItem(t.Context(), sp, wavItem(50), time.Second, time.Second)
	if res != playback.Errored || err == nil {
		t.Fatalf("expected errored, got %v %v", res, err)
	}
}

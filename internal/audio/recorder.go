package audio

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordedTurn is the audio captured for one speech segment.
type RecordedTurn struct {
	ID         string
	StartedAt  time.Time
	SampleRate int
	Chunks     [][]int16
}

// Samples returns the chunks concatenated in capture order.
func (t *RecordedTurn) Samples() []int16 {
	n := 0
	for _, c := range t.Chunks {
		n += len(c)
	}
	out := make([]int16, 0, n)
	for _, c := range t.Chunks {
		out = append(out, c...)
	}
	return out
}

// Duration returns the captured length.
func (t *RecordedTurn) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	n := 0
	for _, c := range t.Chunks {
		n += len(c)
	}
	return time.Duration(n) * time.Second / time.Duration(t.SampleRate)
}

// WAV renders the turn as a mono 16-bit WAV file.
func (t *RecordedTurn) WAV() []byte {
	return BuildWAV(PCM16(t.Samples()), t.SampleRate, 1, 16)
}

// Recorder accumulates ordered chunks between Start and Stop. Append is
// called from the capture goroutine, everything else from the session.
type Recorder struct {
	mu         sync.Mutex
	sampleRate int
	cur        *RecordedTurn
}

func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// Start begins a new segment, dropping any segment still open.
func (r *Recorder) Start(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = &RecordedTurn{ID: uuid.NewString(), StartedAt: now, SampleRate: r.sampleRate}
}

// Recording reports whether a segment is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur != nil
}

// Append copies samples into the open segment; it is a no-op when idle.
func (r *Recorder) Append(samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return
	}
	chunk := make([]int16, len(samples))
	copy(chunk, samples)
	r.cur.Chunks = append(r.cur.Chunks, chunk)
}

// Stop closes the segment and hands it off. The recorder keeps no reference.
func (r *Recorder) Stop() *RecordedTurn {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.cur
	r.cur = nil
	return t
}

// Discard drops the open segment.
func (r *Recorder) Discard() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	had := r.cur != nil
	r.cur = nil
	return had
}

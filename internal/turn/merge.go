// Package turn coalesces transcribed segments into utterances and
// serialises them towards the coach.
package turn

import (
	"strings"
	"time"
)

// MergeBuffer joins transcripts that arrive within Window of each other.
// The deadline moves on every Add; the buffer flushes only once a full
// window passes without a new segment. It is driven by the session tick.
type MergeBuffer struct {
	Window   time.Duration
	parts    []string
	deadline time.Time
}

func NewMergeBuffer(window time.Duration) *MergeBuffer {
	return &MergeBuffer{Window: window}
}

// Add appends a segment and restarts the window. Blank text is ignored.
func (b *MergeBuffer) Add(text string, now time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.parts = append(b.parts, text)
	b.deadline = now.Add(b.Window)
}

// Pending reports whether text is waiting to flush.
func (b *MergeBuffer) Pending() bool { return len(b.parts) > 0 }

// Deadline returns the flush time of the pending text.
func (b *MergeBuffer) Deadline() time.Time { return b.deadline }

// Due flushes the buffer when its window has elapsed.
func (b *MergeBuffer) Due(now time.Time) (string, bool) {
	if len(b.parts) == 0 || now.Before(b.deadline) {
		return "", false
	}
	text := strings.Join(b.parts, " ")
	b.Reset()
	return text, true
}

// Reset drops pending text.
func (b *MergeBuffer) Reset() {
	b.parts = nil
	b.deadline = time.Time{}
}

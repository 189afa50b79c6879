package turn

import "time"

// Deduper drops an utterance identical to the previous sent one when it
// arrives inside Window.
type Deduper struct {
	Window time.Duration
	last   string
	lastAt time.Time
}

func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{Window: window}
}

// Allow reports whether text should be sent and records it when it is.
func (d *Deduper) Allow(text string, now time.Time) bool {
	if text == d.last && !d.lastAt.IsZero() && now.Sub(d.lastAt) < d.Window {
		return false
	}
	d.last = text
	d.lastAt = now
	return true
}

// Reset forgets the previous send.
func (d *Deduper) Reset() {
	d.last = ""
	d.lastAt = time.Time{}
}

// Pending is one finalised utterance waiting for the coach.
type Pending struct {
	Seq  uint64
	Text string
	At   time.Time
}

// Queue is a FIFO of utterances with at most one in flight. Next hands out
// the head only when nothing is in flight, so a second drain attempt while
// one is running does nothing.
type Queue struct {
	items  []Pending
	busy   bool
	closed bool
	seq    uint64
}

// Push appends text and returns its sequence number. Pushes after Close
// are dropped.
func (q *Queue) Push(text string, now time.Time) (uint64, bool) {
	if q.closed {
		return 0, false
	}
	q.seq++
	q.items = append(q.items, Pending{Seq: q.seq, Text: text, At: now})
	return q.seq, true
}

// Next pops the head and marks it in flight.
func (q *Queue) Next() (Pending, bool) {
	if q.busy || q.closed || len(q.items) == 0 {
		return Pending{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	q.busy = true
	return p, true
}

// Done marks the in-flight item finished.
func (q *Queue) Done() { q.busy = false }

// Busy reports whether an item is in flight.
func (q *Queue) Busy() bool { return q.busy }

// Len returns the number of waiting items.
func (q *Queue) Len() int { return len(q.items) }

// Clear drops waiting items. The in-flight item, if any, stays in flight.
func (q *Queue) Clear() { q.items = nil }

// Close clears the queue and stops any further drain.
func (q *Queue) Close() {
	q.items = nil
	q.closed = true
}

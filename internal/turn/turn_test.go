package turn

import (
	"testing"
	"time"
)

const tick = 16 * time.Millisecond

// runMerge feeds segments at the given offsets and ticks the buffer until
// end, returning every flushed utterance.
func runMerge(window time.Duration, segs map[time.Duration]string, end time.Duration) []string {
	b := NewMergeBuffer(window)
	t0 := time.Unix(0, 0)
	var out []string
	for at := time.Duration(0); at <= end; at += time.Millisecond {
		if s, ok := segs[at]; ok {
			b.Add(s, t0.Add(at))
		}
		if at%tick == 0 {
			if text, ok := b.Due(t0.Add(at)); ok {
				out = append(out, text)
			}
		}
	}
	return out
}

func TestMergeCloseSegments(t *testing.T) {
	got := runMerge(1600*time.Millisecond, map[time.Duration]string{
		0:                      "I feel",
		500 * time.Millisecond: "stuck today",
	}, 5*time.Second)
	if len(got) != 1 || got[0] != "I feel stuck today" {
		t.Fatalf("expected one merged utterance, got %q", got)
	}
}

func TestMergeDistantSegments(t *testing.T) {
	got := runMerge(1600*time.Millisecond, map[time.Duration]string{
		0:                       "I feel",
		2000 * time.Millisecond: "stuck today",
	}, 5*time.Second)
	if len(got) != 2 || got[0] != "I feel" || got[1] != "stuck today" {
		t.Fatalf("expected two utterances, got %q", got)
	}
}

func TestMergeWindowRestartsOnAdd(t *testing.T) {
	b := NewMergeBuffer(1600 * time.Millisecond)
	t0 := time.Unix(0, 0)
	b.Add("a", t0)
	b.Add("  ", t0.Add(time.Second))
	b.Add("b", t0.Add(1500*time.Millisecond))
	if _, ok := b.Due(t0.Add(1700 * time.Millisecond)); ok {
		t.Fatalf("flushed before the restarted window elapsed")
	}
	text, ok := b.Due(t0.Add(3100 * time.Millisecond))
	if !ok || text != "a b" {
		t.Fatalf("got %q ok=%v", text, ok)
	}
	if b.Pending() {
		t.Fatalf("buffer should be empty after flush")
	}
}

func TestDedupeWindow(t *testing.T) {
	d := NewDeduper(2200 * time.Millisecond)
	t0 := time.Unix(0, 0)
	line := "I don't know what to do"

	sent := 0
	for _, at := range []time.Duration{0, 1500 * time.Millisecond} {
		if d.Allow(line, t0.Add(at)) {
			sent++
		}
	}
	if sent != 1 {
		t.Fatalf("repeat within 2200ms should send once, sent %d", sent)
	}

	d.Reset()
	sent = 0
	for _, at := range []time.Duration{0, 3000 * time.Millisecond} {
		if d.Allow(line, t0.Add(at)) {
			sent++
		}
	}
	if sent != 2 {
		t.Fatalf("repeat after 3000ms should send twice, sent %d", sent)
	}
}

func TestDedupeOnlyMatchesPrevious(t *testing.T) {
	d := NewDeduper(2200 * time.Millisecond)
	t0 := time.Unix(0, 0)
	if !d.Allow("a", t0) || !d.Allow("b", t0.Add(100*time.Millisecond)) || !d.Allow("a", t0.Add(200*time.Millisecond)) {
		t.Fatalf("non-consecutive repeats must pass")
	}
}

func TestQueueSingleInFlight(t *testing.T) {
	var q Queue
	now := time.Unix(0, 0)
	q.Push("one", now)
	q.Push("two", now)
	first, ok := q.Next()
	if !ok || first.Text != "one" {
		t.Fatalf("unexpected head %+v", first)
	}
	if _, ok := q.Next(); ok {
		t.Fatalf("second drain while busy must be a no-op")
	}
	q.Done()
	second, ok := q.Next()
	if !ok || second.Text != "two" || second.Seq <= first.Seq {
		t.Fatalf("unexpected second %+v", second)
	}
	q.Done()
	if _, ok := q.Next(); ok {
		t.Fatalf("queue should be empty")
	}
}

func TestQueueCloseHaltsDrain(t *testing.T) {
	var q Queue
	now := time.Unix(0, 0)
	q.Push("one", now)
	q.Push("two", now)
	q.Next()
	q.Close()
	q.Done()
	if _, ok := q.Push("three", now); ok {
		t.Fatalf("push after close must be dropped")
	}
	if _, ok := q.Next(); ok || q.Len() != 0 {
		t.Fatalf("closed queue must not drain")
	}
}

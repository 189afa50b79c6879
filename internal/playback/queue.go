package playback

import (
	"context"
	"sync"

	"github.com/voice-coach-lab/internal/config"
	"github.com/voice-coach-lab/internal/logging"
)

// EventKind identifies a queue transition.
type EventKind int

const (
	ItemStarted EventKind = iota + 1
	ItemFinished
	// Drained fires when the worker stops: queue empty, muted or closed.
	Drained
)

func (k EventKind) String() string {
	switch k {
	case ItemStarted:
		return "item_started"
	case ItemFinished:
		return "item_finished"
	case Drained:
		return "drained"
	}
	return "unknown"
}

// Event is delivered to the owner in the order transitions happen. Epoch
// is the interrupt generation the item was taken under.
type Event struct {
	Kind    EventKind
	Item    Item
	Result  Result
	Err     error
	Pending int
	Epoch   uint64
}

// Queue plays items FIFO through one Output using a single worker that
// runs only while there is something to play.
type Queue struct {
	cfg    config.Playback
	out    Output
	notify func(Event)

	mu      sync.Mutex
	items   []Item
	muted   bool
	closed  bool
	running bool
	playing bool
	epoch   uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue binds a queue to out. notify is called from the worker goroutine
// and must not block once the owner is shutting down.
func NewQueue(cfg config.Playback, out Output, notify func(Event)) *Queue {
	if notify == nil {
		notify = func(Event) {}
	}
	return &Queue{cfg: cfg, out: out, notify: notify}
}

// Enqueue appends an item and starts draining when idle.
func (q *Queue) Enqueue(item Item) {
	if item.MIME == "" {
		item.MIME = q.cfg.DefaultMIME
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, item)
	q.kickLocked()
}

// SetMuted halts or resumes draining. Pending items stay queued and the
// current item finishes normally.
func (q *Queue) SetMuted(muted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.muted = muted
	if !muted {
		q.kickLocked()
	}
}

// Interrupt stops the current item, drops everything pending and starts a
// new epoch. It returns the new epoch and the number of dropped items.
func (q *Queue) Interrupt() (uint64, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.items)
	q.items = nil
	q.epoch++
	if q.cancel != nil {
		q.cancel()
	}
	return q.epoch, dropped
}

// Close interrupts playback, waits for the worker and resets the output.
// Later calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.epoch++
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.out.Reset()
}

// Playing reports whether an item is being played right now.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len returns the number of items waiting behind the current one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) canDrainLocked() bool {
	return !q.muted && !q.closed && len(q.items) > 0
}

func (q *Queue) kickLocked() {
	if q.running || !q.canDrainLocked() {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if !q.canDrainLocked() {
			pending, epoch := len(q.items), q.epoch
			q.mu.Unlock()
			q.notify(Event{Kind: Drained, Pending: pending, Epoch: epoch})

			// an Enqueue may have landed while the owner handled Drained
			q.mu.Lock()
			if q.canDrainLocked() {
				q.mu.Unlock()
				continue
			}
			q.running = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		q.playing = true
		epoch := q.epoch
		q.mu.Unlock()

		q.notify(Event{Kind: ItemStarted, Item: item, Epoch: epoch})
		res, err := PlayItem(ctx, q.out, item, q.cfg.ReadyTimeout, q.cfg.HardTimeout)
		cancel()
		if err != nil && res != Aborted {
			logging.Warnw("playback: item failed", "label", item.Label, "mime", item.MIME, "result", res.String(), "err", err)
		}

		q.mu.Lock()
		q.cancel = nil
		q.playing = false
		pending := len(q.items)
		q.mu.Unlock()
		q.notify(Event{Kind: ItemFinished, Item: item, Result: res, Err: err, Pending: pending, Epoch: epoch})
	}
}

// Package playback plays synthesized audio strictly in order through a
// single output. The output is fully reset before every item.
package playback

import (
	"context"
	"errors"
	"time"
)

// Item is one synthesized audio segment.
type Item struct {
	Audio []byte
	MIME  string
	// Label names the item in logs and events (greeting, reply, chime).
	Label string
}

// Output is the audio sink. The queue is its only user during a call.
type Output interface {
	// Reset stops playback and drops the loaded source.
	Reset()
	// Load assigns a new source. The channel closes when it can play.
	Load(item Item) (<-chan struct{}, error)
	// Start begins playback. The channel yields once: nil on natural end,
	// the failure otherwise.
	Start() (<-chan error, error)
}

// Result is how a single item finished. Every result counts as finished.
type Result int

const (
	Ended Result = iota
	Errored
	Aborted
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Ended:
		return "ended"
	case Errored:
		return "error"
	case Aborted:
		return "aborted"
	case TimedOut:
		return "timeout"
	}
	return "unknown"
}

var ErrEmptyItem = errors.New("playback: empty item")

// PlayItem plays one item to completion. It waits at most readyTimeout for
// the source to become playable and then starts anyway; hardTimeout bounds
// the whole item. Cancelling ctx stops the output.
func PlayItem(ctx context.Context, out Output, item Item, readyTimeout, hardTimeout time.Duration) (Result, error) {
	out.Reset()
	if len(item.Audio) == 0 {
		return Errored, ErrEmptyItem
	}

	hard := time.NewTimer(hardTimeout)
	defer hard.Stop()

	ready, err := out.Load(item)
	if err != nil {
		out.Reset()
		return Errored, err
	}
	readyTimer := time.NewTimer(readyTimeout)
	select {
	case <-ready:
	case <-readyTimer.C:
	case <-ctx.Done():
		readyTimer.Stop()
		out.Reset()
		return Aborted, ctx.Err()
	}
	readyTimer.Stop()

	done, err := out.Start()
	if err != nil {
		out.Reset()
		return Errored, err
	}
	select {
	case err := <-done:
		if err != nil {
			out.Reset()
			return Errored, err
		}
		return Ended, nil
	case <-hard.C:
		out.Reset()
		return TimedOut, nil
	case <-ctx.Done():
		out.Reset()
		return Aborted, ctx.Err()
	}
}

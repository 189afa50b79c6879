package call

import (
	"time"

	"github.com/voice-coach-lab/internal/coach"
	"github.com/voice-coach-lab/internal/playback"
	"github.com/voice-coach-lab/internal/turn"
)

// Messages posted to the session loop by asynchronous work. The loop is the
// only reader and the only goroutine touching pipeline state.

type transcribed struct {
	token   *coach.Token
	turnID  string
	text    string
	err     error
	latency time.Duration
}

type coachReplied struct {
	token   *coach.Token
	pending turn.Pending
	reply   coach.Reply
	err     error
	latency time.Duration
}

type greeted struct {
	token   *coach.Token
	reply   coach.Reply
	err     error
	latency time.Duration
}

type playbackEvent struct {
	ev playback.Event
}

type command struct {
	fn   func()
	done chan struct{}
}

package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/coach"
)

var (
	// ErrMicUnavailable wraps microphone acquisition failures.
	ErrMicUnavailable = errors.New("microphone unavailable")
	ErrAlreadyStarted = errors.New("call already started")
	ErrEnded          = errors.New("call ended")
	ErrCallActive     = errors.New("a call is already active")
)

// Status lines shown to the user.
const (
	StatusConnecting     = "Connecting…"
	StatusListening      = "Listening…"
	StatusSpeaking       = "Speaking…"
	StatusThinking       = "Thinking…"
	StatusReplying       = "AI replying…"
	StatusNoSpeech       = "Didn't catch that."
	StatusEnded          = "Call ended."
	statusSTTFailed      = "Couldn't transcribe that. Keep talking."
	statusCoachFailed    = "Coach is unavailable right now. Try again."
	statusGreetingFailed = "Couldn't load the greeting. Go ahead and talk."
)

// Phase is the call state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseListening  Phase = "listening"
	PhaseSpeaking   Phase = "speaking"
	PhaseAISpeaking Phase = "ai-speaking"
	PhaseEnded      Phase = "ended"
)

// Clock is the session time source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Stream is an acquired microphone. Only the session starts and stops it;
// SetEnabled is the mute switch and leaves the stream running.
type Stream interface {
	Level() float64
	SetEnabled(on bool)
	StartRecording(now time.Time)
	StopRecording() *audio.RecordedTurn
	DiscardRecording() bool
	Close() error
}

// Microphone acquires a stream for one call.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
}

// Backend is the coach service as seen by a call.
type Backend interface {
	Transcribe(ctx context.Context, wav []byte, filename string) (string, error)
	Turn(ctx context.Context, id coach.Identity, transcript string) (coach.Reply, error)
	Greeting(ctx context.Context, id coach.Identity) (coach.Reply, error)
}

// Archive persists recorded turns. Annotate merges fields into a saved
// turn's metadata.
type Archive interface {
	SaveTurn(callID string, turn *audio.RecordedTurn) error
	Annotate(turnID string, fields map[string]interface{}) error
}

// Line is one transcript entry.
type Line struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot is the externally visible state of a call.
type Snapshot struct {
	CallID         string    `json:"call_id"`
	DeviceID       string    `json:"device_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Phase          Phase     `json:"phase"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Elapsed        string    `json:"elapsed"`
	Ringing        bool      `json:"ringing"`
	PlayingAI      bool      `json:"playing_ai"`
	MicMuted       bool      `json:"mic_muted"`
	SpeakerMuted   bool      `json:"speaker_muted"`
	Transcript     []Line    `json:"transcript"`
}

// Active reports whether the call is still running.
func (s Snapshot) Active() bool {
	return s.Phase != PhaseIdle && s.Phase != PhaseEnded
}

// FormatElapsed renders a call duration as mm:ss, or h:mm:ss past an hour.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

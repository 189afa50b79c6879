// Package call runs one voice coaching call: it samples the microphone on a
// fixed tick, segments speech into turns, sends merged utterances to the
// coach and plays the replies, letting the user barge in over AI audio.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voice-coach-lab/internal/audio"
	"github.com/voice-coach-lab/internal/bargein"
	"github.com/voice-coach-lab/internal/coach"
	"github.com/voice-coach-lab/internal/config"
	"github.com/voice-coach-lab/internal/logging"
	"github.com/voice-coach-lab/internal/metrics"
	"github.com/voice-coach-lab/internal/playback"
	"github.com/voice-coach-lab/internal/turn"
	"github.com/voice-coach-lab/internal/vad"
)

// Deps are the collaborators of a session. Mic, Backend and Output are
// required.
type Deps struct {
	Mic     Microphone
	Backend Backend
	Output  playback.Output
	Archive Archive
	Clock   Clock
	// Ticks replaces the internal ticker. The received time is used as the
	// sample timestamp.
	Ticks <-chan time.Time
}

// Session owns the full pipeline state of one call. All state below the
// lifecycle block is touched only by the loop goroutine, or by Start before
// the loop exists.
type Session struct {
	cfg  config.Config
	deps Deps
	id   coach.Identity

	// lifecycle
	lifeMu   sync.Mutex
	started  bool
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	events   chan interface{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// published view
	snapMu    sync.RWMutex
	snap      Snapshot
	listeners []func(Snapshot)

	// loop-owned
	stream     Stream
	detector   *vad.Detector
	barge      *bargein.Monitor
	merge      *turn.MergeBuffer
	mergeIDs   []string
	dedupe     *turn.Deduper
	turns      turn.Queue
	turnIDs    map[uint64][]string
	sttSeq     coach.Sequencer
	coachSeq   coach.Sequencer
	player     *playback.Queue
	playEpoch  uint64
	queuedAI   int
	playingAI  bool
	greeting   bool
	listening  bool
	micMuted   bool
	spkMuted   bool
	phase      Phase
	status     string
	startedAt  time.Time
	lastSecond int
	transcript []Line
	torn       bool
}

// NewSession prepares a call. deviceID and conversationID are pass-through
// correlation ids; an empty deviceID gets a generated one.
func NewSession(cfg config.Config, deps Deps, deviceID, conversationID string) *Session {
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	s := &Session{
		cfg:      cfg,
		deps:     deps,
		id:       coach.Identity{CallID: uuid.NewString(), DeviceID: deviceID, ConversationID: conversationID},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		events:   make(chan interface{}, 64),
		detector: vad.NewDetector(cfg.VAD, nil),
		barge:    bargein.NewMonitor(cfg.BargeIn),
		merge:    turn.NewMergeBuffer(cfg.Turns.MergeWindow),
		dedupe:   turn.NewDeduper(cfg.Turns.DedupeWindow),
		turnIDs:  make(map[uint64][]string),
		phase:    PhaseIdle,
	}
	s.snap = s.buildSnapshot()
	return s
}

// ID returns the call identifiers.
func (s *Session) ID() coach.Identity { return s.id }

// OnChange registers a listener invoked after every published change. It
// runs on the session loop and must return quickly.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the last published state.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	snap := s.snap
	snap.Transcript = append([]Line(nil), s.snap.Transcript...)
	return snap
}

// Done is closed once the call has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires the microphone, queues the connect chime and the greeting
// and starts the tick loop. A microphone failure ends the call before
// anything else runs.
func (s *Session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	if s.started {
		s.lifeMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.lifeMu.Unlock()

	s.ctx, s.cancel = context.WithCancel(logging.WithFields(context.Background(), logging.CallFields(s.id.CallID, s.id.DeviceID, s.id.ConversationID)...))
	s.startedAt = s.deps.Clock.Now()
	s.setPhase(PhaseConnecting, StatusConnecting)
	s.publish()
	logging.InfowCtx(s.ctx, "call starting")

	stream, err := s.deps.Mic.Open(ctx)
	if err != nil {
		logging.WarnwCtx(s.ctx, "call start aborted: microphone unavailable", "err", err)
		metrics.Errors.WithLabelValues("mic", "unavailable").Inc()
		s.teardown("Microphone unavailable. Check permissions and try again.")
		close(s.done)
		return fmt.Errorf("%w: %v", ErrMicUnavailable, err)
	}
	s.stream = stream
	s.stream.SetEnabled(!s.micMuted)

	select {
	case <-s.stop:
		s.teardown(StatusEnded)
		close(s.done)
		return ErrEnded
	default:
	}

	s.detector.Reset()
	s.player = playback.NewQueue(s.cfg.Playback, s.deps.Output, func(ev playback.Event) {
		s.post(playbackEvent{ev: ev})
	})
	s.player.SetMuted(s.spkMuted)
	if s.cfg.ConnectChime {
		s.enqueueAudio(playback.Item{Audio: audio.ConnectChime(s.cfg.Device.SampleRate), MIME: "audio/wav", Label: "chime"})
	}
	s.requestGreeting()

	metrics.CallsActive.Inc()
	metrics.CallsTotal.Inc()

	s.lifeMu.Lock()
	s.running = true
	s.lifeMu.Unlock()
	go s.run()
	return nil
}

// End tears the call down. It is idempotent, safe from any goroutine except
// a session listener, and returns once everything has stopped.
func (s *Session) End() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.lifeMu.Lock()
	if !s.started {
		s.started = true
		s.lifeMu.Unlock()
		s.teardown(StatusEnded)
		close(s.done)
		return
	}
	s.lifeMu.Unlock()
	<-s.done
}

// SetMicMuted disables the microphone track. The stream keeps running.
// Like SetSpeakerMuted it must not be called from a session listener.
func (s *Session) SetMicMuted(muted bool) {
	s.submit(func() {
		s.micMuted = muted
		if s.stream != nil {
			s.stream.SetEnabled(!muted)
		}
		s.publish()
	})
}

// SetSpeakerMuted halts AI playback drains. Pending audio is kept and the
// current item finishes.
func (s *Session) SetSpeakerMuted(muted bool) {
	s.submit(func() {
		s.spkMuted = muted
		if s.player != nil {
			s.player.SetMuted(muted)
			s.maybeListen()
		}
		s.publish()
	})
}

// submit runs fn on the loop, or inline before the call has started.
func (s *Session) submit(fn func()) {
	s.lifeMu.Lock()
	if !s.running {
		if !s.started {
			fn()
		}
		s.lifeMu.Unlock()
		return
	}
	s.lifeMu.Unlock()
	s.do(fn)
}

// do runs fn on the loop and waits for it. It returns early if the call
// ends first.
func (s *Session) do(fn func()) {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.events <- cmd:
	case <-s.stop:
		return
	}
	select {
	case <-cmd.done:
	case <-s.done:
	}
}

// post delivers a message to the loop. Posts after End are dropped.
func (s *Session) post(msg interface{}) {
	select {
	case s.events <- msg:
	case <-s.stop:
	}
}

// goAsync runs fn on a tracked goroutine so teardown can wait for it.
func (s *Session) goAsync(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Session) run() {
	ticks := s.deps.Ticks
	if ticks == nil {
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		ticks = ticker.C
	}
	for {
		select {
		case <-s.stop:
			s.teardown(StatusEnded)
			close(s.done)
			return
		case now := <-ticks:
			s.tick(now)
		case msg := <-s.events:
			s.handle(msg)
		}
	}
}

// tick is the per-frame step: barge-in, VAD, merge deadline, elapsed clock.
func (s *Session) tick(now time.Time) {
	energy := s.stream.Level()
	changed := false

	// muting only silences what is queued; the clip already playing is
	// still audible, so the echo guard and barge-in stay on.
	barged := s.playingAI && s.barge.Step(energy, s.detector.Threshold(), now)
	if barged {
		s.bargeIn()
		// listeners see Listening before the interrupting turn opens
		s.publish()
	}

	allowStart := s.listening && !s.micMuted && !s.playingAI && !barged
	if ev, ok := s.detector.Step(vad.Sample{Energy: energy, At: now}, allowStart); ok {
		s.onVAD(ev)
		changed = true
	}
	if s.detector.State() == vad.Idle {
		metrics.NoiseFloor.Set(s.detector.Noise().Floor())
	}

	if text, ok := s.merge.Due(now); ok {
		s.flush(text, now)
		changed = true
	}

	if sec := int(now.Sub(s.startedAt) / time.Second); sec != s.lastSecond {
		s.lastSecond = sec
		changed = true
	}
	if changed {
		s.publish()
	}
}

func (s *Session) onVAD(ev vad.Event) {
	switch ev.Kind {
	case vad.TurnStarted:
		s.stream.StartRecording(ev.At)
		s.setPhase(PhaseSpeaking, StatusSpeaking)
	case vad.TurnDiscarded:
		s.stream.DiscardRecording()
		metrics.Turns.WithLabelValues("discarded").Inc()
		logging.DebugwCtx(s.ctx, "speech too short, discarded", "duration_ms", ev.Duration.Milliseconds())
		s.setPhase(PhaseListening, s.idleStatus())
	case vad.TurnEnded:
		rec := s.stream.StopRecording()
		s.setPhase(PhaseListening, s.idleStatus())
		if rec != nil {
			s.transcribe(rec, ev.Duration)
		}
	}
}

func (s *Session) transcribe(rec *audio.RecordedTurn, speech time.Duration) {
	tok := s.sttSeq.Begin(s.ctx)
	wav := rec.WAV()
	logging.DebugwCtx(s.ctx, "turn recorded", "turn.id", rec.ID, "duration_ms", speech.Milliseconds(), "bytes", len(wav))
	callID, archive, backend := s.id.CallID, s.deps.Archive, s.deps.Backend
	s.goAsync(func() {
		if archive != nil {
			if err := archive.SaveTurn(callID, rec); err != nil {
				logging.WarnwCtx(tok.Context(), "archive: save turn failed", "turn.id", rec.ID, "err", err)
			}
		}
		start := time.Now()
		text, err := backend.Transcribe(tok.Context(), wav, rec.ID+".wav")
		s.post(transcribed{token: tok, turnID: rec.ID, text: text, err: err, latency: time.Since(start)})
	})
}

func (s *Session) handle(msg interface{}) {
	switch m := msg.(type) {
	case command:
		m.fn()
		close(m.done)
		return
	case transcribed:
		s.onTranscribed(m)
	case coachReplied:
		s.onCoachReply(m)
	case greeted:
		s.onGreeting(m)
	case playbackEvent:
		s.onPlayback(m.ev)
	}
	s.publish()
}

func (s *Session) onTranscribed(m transcribed) {
	if !m.token.Current() || coach.IsCanceled(m.err) {
		return
	}
	metrics.StageDuration.WithLabelValues("transcribe").Observe(m.latency.Seconds())
	if m.err != nil {
		logging.WarnwCtx(s.ctx, "transcription failed", "turn.id", m.turnID, "err", m.err)
		metrics.Errors.WithLabelValues("transcribe", errorType(m.err)).Inc()
		s.setStatusIfListening(statusSTTFailed)
		return
	}
	if m.text == "" {
		metrics.Turns.WithLabelValues("empty").Inc()
		s.setStatusIfListening(StatusNoSpeech)
		return
	}
	now := s.deps.Clock.Now()
	s.merge.Add(m.text, now)
	s.mergeIDs = append(s.mergeIDs, m.turnID)
	s.annotate([]string{m.turnID}, map[string]interface{}{"transcript": m.text})
	logging.DebugwCtx(s.ctx, "transcript merged", "turn.id", m.turnID, "stt_latency_ms", m.latency.Milliseconds())
}

// flush takes a merged utterance through dedupe into the dispatch queue.
func (s *Session) flush(text string, now time.Time) {
	ids := s.mergeIDs
	s.mergeIDs = nil
	if !s.dedupe.Allow(text, now) {
		metrics.Turns.WithLabelValues("duplicate").Inc()
		logging.DebugwCtx(s.ctx, "duplicate utterance dropped", "text_len", len(text))
		return
	}
	seq, ok := s.turns.Push(text, now)
	if !ok {
		return
	}
	s.turnIDs[seq] = ids
	s.addLine("user", text, now)
	metrics.Turns.WithLabelValues("dispatched").Inc()
	s.drainTurns()
}

// drainTurns sends the head of the dispatch queue when nothing is in flight.
func (s *Session) drainTurns() {
	p, ok := s.turns.Next()
	if !ok {
		return
	}
	tok := s.coachSeq.Begin(s.ctx)
	s.setStatusIfListening(StatusThinking)
	id, backend := s.id, s.deps.Backend
	s.goAsync(func() {
		start := time.Now()
		reply, err := backend.Turn(tok.Context(), id, p.Text)
		s.post(coachReplied{token: tok, pending: p, reply: reply, err: err, latency: time.Since(start)})
	})
}

func (s *Session) onCoachReply(m coachReplied) {
	ids := s.turnIDs[m.pending.Seq]
	delete(s.turnIDs, m.pending.Seq)
	if !m.token.Current() {
		if m.err == nil {
			metrics.StaleReplies.Inc()
			logging.DebugwCtx(s.ctx, "stale coach reply dropped", "turn.seq", m.pending.Seq)
		}
		return
	}
	s.turns.Done()
	defer s.drainTurns()

	metrics.StageDuration.WithLabelValues("coach").Observe(m.latency.Seconds())
	if m.err != nil {
		logging.WarnwCtx(s.ctx, "coach turn failed", "turn.seq", m.pending.Seq, "err", m.err)
		metrics.Errors.WithLabelValues("coach", errorType(m.err)).Inc()
		s.setStatusIfListening(statusCoachFailed)
		return
	}
	if m.reply.Empty() {
		logging.DebugwCtx(s.ctx, "coach skipped turn", "turn.seq", m.pending.Seq)
		s.setStatusIfListening(StatusListening)
		return
	}
	s.speak(m.reply, "reply")
	s.annotate(ids, map[string]interface{}{"utterance": m.pending.Text, "reply": m.reply.Text})
	if len(m.reply.Audio) == 0 {
		s.setStatusIfListening(StatusListening)
	}
}

func (s *Session) requestGreeting() {
	s.greeting = true
	tok := s.coachSeq.Begin(s.ctx)
	id, backend := s.id, s.deps.Backend
	s.goAsync(func() {
		start := time.Now()
		reply, err := backend.Greeting(tok.Context(), id)
		s.post(greeted{token: tok, reply: reply, err: err, latency: time.Since(start)})
	})
}

func (s *Session) onGreeting(m greeted) {
	s.greeting = false
	if !m.token.Current() || coach.IsCanceled(m.err) {
		s.maybeListen()
		return
	}
	metrics.StageDuration.WithLabelValues("greeting").Observe(m.latency.Seconds())
	if m.err != nil {
		logging.WarnwCtx(s.ctx, "greeting failed", "err", m.err)
		metrics.Errors.WithLabelValues("greeting", errorType(m.err)).Inc()
		s.maybeListen()
		s.setStatusIfListening(statusGreetingFailed)
		return
	}
	if !m.reply.Empty() {
		s.speak(m.reply, "greeting")
	}
	s.maybeListen()
}

// speak shows the reply text and queues its audio.
func (s *Session) speak(r coach.Reply, label string) {
	if r.Text != "" {
		s.addLine("coach", r.Text, s.deps.Clock.Now())
	}
	if len(r.Audio) > 0 {
		s.enqueueAudio(playback.Item{Audio: r.Audio, MIME: r.MIME, Label: label})
	}
}

func (s *Session) enqueueAudio(item playback.Item) {
	s.queuedAI++
	s.player.Enqueue(item)
}

func (s *Session) onPlayback(ev playback.Event) {
	if ev.Epoch < s.playEpoch {
		if ev.Kind == playback.ItemFinished {
			metrics.PlaybackItems.WithLabelValues(ev.Result.String()).Inc()
		}
		return
	}
	now := s.deps.Clock.Now()
	switch ev.Kind {
	case playback.ItemStarted:
		s.playingAI = true
		s.barge.Start(now)
		// never keep the assistant's own voice in a user turn
		aborted := s.detector.Abort()
		if discarded := s.stream.DiscardRecording(); aborted || discarded {
			logging.DebugwCtx(s.ctx, "user turn dropped for AI playback", "label", ev.Item.Label)
		}
		s.setPhase(PhaseAISpeaking, StatusReplying)
	case playback.ItemFinished:
		metrics.PlaybackItems.WithLabelValues(ev.Result.String()).Inc()
		if s.queuedAI > 0 {
			s.queuedAI--
		}
		s.playingAI = false
		s.barge.Stop()
	case playback.Drained:
		s.playingAI = false
		s.barge.Stop()
		if s.listening && s.phase == PhaseAISpeaking {
			s.setPhase(PhaseListening, s.idleStatus())
		}
		s.maybeListen()
	}
}

// maybeListen opens the floor to the user once the greeting has been
// fetched and every queued clip has played.
func (s *Session) maybeListen() {
	if s.listening || s.greeting || s.playingAI {
		return
	}
	if s.queuedAI > 0 && !s.spkMuted {
		return
	}
	s.listening = true
	s.setPhase(PhaseListening, StatusListening)
	logging.InfowCtx(s.ctx, "call listening")
}

// bargeIn preempts AI audio and the in-flight coach request.
func (s *Session) bargeIn() {
	epoch, dropped := s.player.Interrupt()
	s.playEpoch = epoch
	s.queuedAI = 0
	s.coachSeq.Invalidate()
	if s.turns.Busy() {
		s.turns.Done()
	}
	s.playingAI = false
	s.barge.Stop()
	metrics.BargeIns.Inc()
	logging.InfowCtx(s.ctx, "barge-in", "dropped_items", dropped)
	if s.greeting {
		s.greeting = false
	}
	s.listening = true
	s.setPhase(PhaseListening, StatusListening)
	s.drainTurns()
}

// teardown stops everything the call owns. Safe to run once from any path.
func (s *Session) teardown(status string) {
	if s.torn {
		return
	}
	s.torn = true
	s.sttSeq.Invalidate()
	s.coachSeq.Invalidate()
	if s.cancel != nil {
		s.cancel()
	}
	s.turns.Close()
	s.merge.Reset()
	s.mergeIDs = nil
	if s.player != nil {
		s.player.Close()
		metrics.CallsActive.Dec()
	}
	if s.stream != nil {
		s.stream.DiscardRecording()
		if err := s.stream.Close(); err != nil {
			logging.WarnwCtx(s.ctx, "microphone close failed", "err", err)
		}
	}
	s.wg.Wait()
	s.detector.Reset()
	s.barge.Stop()
	s.playingAI = false
	s.listening = false
	s.greeting = false
	s.queuedAI = 0
	s.setPhase(PhaseEnded, status)
	s.publish()
	if s.ctx != nil {
		logging.InfowCtx(s.ctx, "call ended", "elapsed", FormatElapsed(s.deps.Clock.Now().Sub(s.startedAt)))
	}
}

func (s *Session) setPhase(p Phase, status string) {
	s.phase = p
	s.status = status
}

// setStatusIfListening updates the status line without stepping on an
// active user or AI turn.
func (s *Session) setStatusIfListening(status string) {
	if s.phase == PhaseListening {
		s.status = status
	}
}

func (s *Session) idleStatus() string {
	if s.turns.Busy() {
		return StatusThinking
	}
	return StatusListening
}

func (s *Session) addLine(role, text string, at time.Time) {
	s.transcript = append(s.transcript, Line{Role: role, Text: text, At: at})
}

func (s *Session) annotate(ids []string, fields map[string]interface{}) {
	if s.deps.Archive == nil || len(ids) == 0 {
		return
	}
	archive := s.deps.Archive
	s.goAsync(func() {
		for _, id := range ids {
			if err := archive.Annotate(id, fields); err != nil {
				logging.Debugw("archive: annotate failed", "turn.id", id, "err", err)
			}
		}
	})
}

func (s *Session) buildSnapshot() Snapshot {
	snap := Snapshot{
		CallID:         s.id.CallID,
		DeviceID:       s.id.DeviceID,
		ConversationID: s.id.ConversationID,
		Phase:          s.phase,
		Status:         s.status,
		StartedAt:      s.startedAt,
		Elapsed:        FormatElapsed(0),
		Ringing:        s.phase == PhaseConnecting,
		PlayingAI:      s.playingAI,
		MicMuted:       s.micMuted,
		SpeakerMuted:   s.spkMuted,
		Transcript:     append([]Line(nil), s.transcript...),
	}
	if !s.startedAt.IsZero() && s.phase != PhaseEnded {
		snap.Elapsed = FormatElapsed(s.deps.Clock.Now().Sub(s.startedAt))
	}
	return snap
}

func (s *Session) publish() {
	snap := s.buildSnapshot()
	s.snapMu.Lock()
	if snap.Phase == PhaseEnded {
		snap.Elapsed = s.snap.Elapsed
	}
	s.snap = snap
	listeners := make([]func(Snapshot), len(s.listeners))
	copy(listeners, s.listeners)
	s.snapMu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, coach.ErrTransient):
		return "transient"
	case errors.Is(err, coach.ErrPermanent):
		return "permanent"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "other"
}

package coach

import (
	"context"
	"sync"
)

// Sequencer hands out cancellation tokens for one kind of request. Only the
// most recently issued token is current; beginning a new one or calling
// Invalidate cancels the previous request and makes its result stale.
type Sequencer struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Token identifies one in-flight request.
type Token struct {
	Seq uint64
	ctx context.Context
	s   *Sequencer
}

// Begin cancels the live request, if any, and issues the next token.
func (s *Sequencer) Begin(parent context.Context) *Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.seq++
	s.cancel = cancel
	return &Token{Seq: s.seq, ctx: ctx, s: s}
}

// Invalidate cancels the live request without issuing a new one.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Context is cancelled once the token is superseded.
func (t *Token) Context() context.Context { return t.ctx }

// Current reports whether no newer token was issued and no invalidation
// happened since this one began.
func (t *Token) Current() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.Seq == t.s.seq
}

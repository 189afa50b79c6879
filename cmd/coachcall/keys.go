package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/logging"
)

const keyHelp = "keys: m mic mute, s speaker mute, e end call, c call again, q quit"

// keys maps single-letter stdin commands onto the call manager.
type keys struct {
	mgr          *call.Manager
	conversation string
	out          io.Writer
}

// run reads commands until q, EOF or ctx ends. Each line's first letter is
// the command.
func (k *keys) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := k.handle(ctx, line); quit {
				return
			}
		}
	}
}

func (k *keys) handle(ctx context.Context, line string) (quit bool) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	if cmd == "" {
		return false
	}
	switch cmd[0] {
	case 'q':
		return true
	case 'e':
		if !k.mgr.End() {
			k.say("no active call")
		}
	case 'c':
		if err := k.startCall(ctx); err != nil {
			k.say(err.Error())
		}
	case 'm':
		if s := k.active(); s != nil {
			s.SetMicMuted(!s.Snapshot().MicMuted)
		}
	case 's':
		if s := k.active(); s != nil {
			s.SetSpeakerMuted(!s.Snapshot().SpeakerMuted)
		}
	default:
		k.say(keyHelp)
	}
	return false
}

func (k *keys) startCall(ctx context.Context) error {
	_, err := k.mgr.Start(ctx, k.conversation)
	switch {
	case errors.Is(err, call.ErrCallActive):
		return errors.New("a call is already active")
	case err != nil:
		logging.Warnw("call start failed", "err", err)
		return err
	}
	return nil
}

func (k *keys) active() *call.Session {
	s := k.mgr.Current()
	if s == nil || !s.Snapshot().Active() {
		k.say("no active call")
		return nil
	}
	return s
}

func (k *keys) say(msg string) {
	if k.out != nil {
		fmt.Fprintln(k.out, msg)
	}
}

// statusLine renders a snapshot for the terminal.
func statusLine(s call.Snapshot) string {
	var flags []string
	if s.MicMuted {
		flags = append(flags, "mic muted")
	}
	if s.SpeakerMuted {
		flags = append(flags, "speaker muted")
	}
	line := fmt.Sprintf("[%s] %s", s.Elapsed, s.Status)
	if len(flags) > 0 {
		line += " (" + strings.Join(flags, ", ") + ")"
	}
	return line
}

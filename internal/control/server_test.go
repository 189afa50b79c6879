package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/call/calltest"
)

func newManager() *call.Manager { return calltest.Manager(nil) }

func connect(t *testing.T, mgr *call.Manager) *Client {
	t.Helper()
	ctx := context.Background()
	ct, st := sdk.NewInMemoryTransports()
	if _, err := NewServer(mgr, "test").Connect(ctx, st); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	c := NewClient("test-client", "v0")
	if err := c.Connect(ctx, ct); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func snapshotOf(t *testing.T, text string) call.Snapshot {
	t.Helper()
	var s call.Snapshot
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		t.Fatalf("snapshot json %q: %v", text, err)
	}
	return s
}

func TestToolsDriveTheCall(t *testing.T) {
	mgr := newManager()
	c := connect(t, mgr)
	ctx := context.Background()

	out, err := c.Call(ctx, "call_status", nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s := snapshotOf(t, out); s.Phase != call.PhaseIdle {
		t.Fatalf("expected idle before any call, got %q", s.Phase)
	}

	if _, err := c.Call(ctx, "set_mic_muted", map[string]any{"muted": true}); err == nil {
		t.Fatalf("mute without a call should fail")
	}

	out, err = c.Call(ctx, "start_call", map[string]any{"conversation_id": "conv-7"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s := snapshotOf(t, out); s.ConversationID != "conv-7" || !s.Active() {
		t.Fatalf("unexpected snapshot after start: %+v", s)
	}
	if _, err := c.Call(ctx, "start_call", nil); err == nil || !strings.Contains(err.Error(), "already active") {
		t.Fatalf("second start should be refused, got %v", err)
	}

	out, err = c.Call(ctx, "set_mic_muted", map[string]any{"muted": true})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if s := snapshotOf(t, out); !s.MicMuted {
		t.Fatalf("mic should be muted")
	}
	out, err = c.Call(ctx, "set_speaker_muted", map[string]any{"muted": true})
	if err != nil {
		t.Fatalf("speaker mute: %v", err)
	}
	if s := snapshotOf(t, out); !s.SpeakerMuted {
		t.Fatalf("speaker should be muted")
	}

	out, err = c.Call(ctx, "end_call", nil)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if s := snapshotOf(t, out); s.Phase != call.PhaseEnded || s.Status != call.StatusEnded {
		t.Fatalf("expected ended snapshot, got %+v", s)
	}
	if _, err := c.Call(ctx, "end_call", nil); err == nil {
		t.Fatalf("ending twice should report no active call")
	}
}

func TestWebSocketTransport(t *testing.T) {
	srv := httptest.NewServer(NewServer(newManager(), "test"))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewClient("ws-client", "v0")
	if err := c.ConnectWebSocket(ctx, srv.URL); err != nil {
		t.Fatalf("ws connect: %v", err)
	}
	defer c.Close()
	out, err := c.Call(ctx, "call_status", nil)
	if err != nil {
		t.Fatalf("status over ws: %v", err)
	}
	if s := snapshotOf(t, out); s.Phase != call.PhaseIdle {
		t.Fatalf("expected idle, got %q", s.Phase)
	}
}

func TestRegisterWithoutRegistryIsNoop(t *testing.T) {
	t.Setenv("MCP_URL", "")
	if err := Register("coachcall", "ws://127.0.0.1/mcp/ws"); err != nil {
		t.Fatalf("register: %v", err)
	}
}

func TestWebSocketPeerSerializesWrites(t *testing.T) {
	const n = 20
	got := make(chan string, n)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c, _ := newWebSocketTransport(conn).Connect(r.Context())
		defer c.Close()
		for i := 0; i < n; i++ {
			msg, err := c.Read(context.Background())
			if err != nil {
				return
			}
			if req, ok := msg.(*jsonrpc.Request); ok {
				got <- req.Method
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c, _ := newWebSocketTransport(conn).Connect(ctx)
	if c.SessionID() == "" {
		t.Fatalf("peer should have a session id")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := c.Write(ctx, &jsonrpc.Request{Method: fmt.Sprintf("notify/%d", i)}); err != nil {
				t.Errorf("write %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case m := <-got:
			seen[m] = true
		case <-ctx.Done():
			t.Fatalf("only %d of %d frames arrived intact", len(seen), n)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct frames, got %d", n, len(seen))
	}
	c.Close()
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

// Package control exposes the call as MCP tools over a websocket so an
// agent or a second terminal can start, end and mute calls.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/logging"
)

// Server is the MCP tool server bound to one call manager.
type Server struct {
	mgr      *call.Manager
	mcp      *sdk.Server
	upgrader websocket.Upgrader
}

type startArgs struct {
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"conversation to continue, empty for a new one"`
}

type muteArgs struct {
	Muted bool `json:"muted" jsonschema:"true to mute, false to unmute"`
}

type noArgs struct{}

func NewServer(mgr *call.Manager, version string) *Server {
	s := &Server{
		mgr: mgr,
		mcp: sdk.NewServer(&sdk.Implementation{Name: "coachcall", Version: version}, nil),
	}
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "call_status", Description: "Current call phase, status line, elapsed time and transcript"}, s.status)
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "start_call", Description: "Start a coaching call"}, s.start)
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "end_call", Description: "End the active call"}, s.end)
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "set_mic_muted", Description: "Mute or unmute the microphone"}, s.mic)
	sdk.AddTool(s.mcp, &sdk.Tool{Name: "set_speaker_muted", Description: "Mute or unmute AI playback"}, s.speaker)
	return s
}

// Connect serves one MCP session on t until ctx ends or the peer leaves.
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// ServeHTTP upgrades to a websocket and serves MCP on it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp ws upgrade failed", "err", err)
		return
	}
	go func() {
		ss, err := s.Connect(context.Background(), newWebSocketTransport(conn))
		if err != nil {
			logging.Warnw("mcp server connect error", "err", err)
			return
		}
		if err := ss.Wait(); err != nil {
			logging.Debugw("mcp session ended with error", "err", err)
			return
		}
		logging.Debugw("mcp session ended")
	}()
}

func (s *Server) status(ctx context.Context, req *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
	snap, _ := s.mgr.Snapshot()
	return jsonResult(snap), nil, nil
}

func (s *Server) start(ctx context.Context, req *sdk.CallToolRequest, in startArgs) (*sdk.CallToolResult, any, error) {
	sess, err := s.mgr.Start(ctx, in.ConversationID)
	if err != nil {
		if errors.Is(err, call.ErrCallActive) {
			return errorResult("a call is already active"), nil, nil
		}
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(sess.Snapshot()), nil, nil
}

func (s *Server) end(ctx context.Context, req *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, any, error) {
	if !s.mgr.End() {
		return errorResult("no active call"), nil, nil
	}
	snap, _ := s.mgr.Snapshot()
	return jsonResult(snap), nil, nil
}

func (s *Server) mic(ctx context.Context, req *sdk.CallToolRequest, in muteArgs) (*sdk.CallToolResult, any, error) {
	sess := s.active()
	if sess == nil {
		return errorResult("no active call"), nil, nil
	}
	sess.SetMicMuted(in.Muted)
	return jsonResult(sess.Snapshot()), nil, nil
}

func (s *Server) speaker(ctx context.Context, req *sdk.CallToolRequest, in muteArgs) (*sdk.CallToolResult, any, error) {
	sess := s.active()
	if sess == nil {
		return errorResult("no active call"), nil, nil
	}
	sess.SetSpeakerMuted(in.Muted)
	return jsonResult(sess.Snapshot()), nil, nil
}

func (s *Server) active() *call.Session {
	sess := s.mgr.Current()
	if sess == nil || !sess.Snapshot().Active() {
		return nil
	}
	return sess
}

func jsonResult(v interface{}) *sdk.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(err.Error())
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}
}

func errorResult(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{IsError: true, Content: []sdk.Content{&sdk.TextContent{Text: msg}}}
}

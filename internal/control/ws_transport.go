package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-coach-lab/internal/logging"
)

// wsPeer carries MCP over one websocket, as both the transport and its
// single connection. The SDK may write from several goroutines; gorilla
// allows one writer at a time.
type wsPeer struct {
	conn *websocket.Conn
	id   string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWebSocketTransport(conn *websocket.Conn) sdk.Transport {
	return &wsPeer{conn: conn, id: conn.RemoteAddr().String() + "/" + uuid.NewString()[:8]}
}

func (p *wsPeer) Connect(ctx context.Context) (sdk.Connection, error) {
	logging.Debugw("mcp websocket connected", "peer", p.id)
	return p, nil
}

func (p *wsPeer) Read(ctx context.Context) (jsonrpc.Message, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetReadDeadline(dl)
		defer p.conn.SetReadDeadline(time.Time{})
	}
	kind, data, err := p.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logging.Debugw("mcp websocket read failed", "peer", p.id, "err", err)
		}
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, errors.New("mcp websocket: binary frame")
	}
	return jsonrpc.DecodeMessage(data)
}

func (p *wsPeer) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := jsonrpc.EncodeMessage(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
		defer p.conn.SetWriteDeadline(time.Time{})
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debugw("mcp websocket write failed", "peer", p.id, "err", err)
		return err
	}
	return nil
}

// Close sends a close frame once and drops the socket.
func (p *wsPeer) Close() error {
	p.closeOnce.Do(func() {
		// WriteControl may run alongside a pending Write
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.closeErr = p.conn.Close()
		logging.Debugw("mcp websocket closed", "peer", p.id)
	})
	return p.closeErr
}

func (p *wsPeer) SessionID() string { return p.id }

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voice-coach-lab/internal/logging"
)

// Client is a small MCP client for driving a running coachcall.
type Client struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

func NewClient(name, version string) *Client {
	return &Client{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// ConnectWebSocket dials rawurl, accepting http(s) and ws(s) schemes.
func (c *Client) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	return c.Connect(ctx, newWebSocketTransport(conn))
}

// Connect opens a session over an already established transport.
func (c *Client) Connect(ctx context.Context, t sdk.Transport) error {
	sess, err := c.client.Connect(ctx, t, nil)
	if err != nil {
		return err
	}
	c.session = sess
	return nil
}

// Call invokes a tool and returns its text. Tool-level failures come back
// as errors.
func (c *Client) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", errors.New("mcp client not connected")
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, ct := range res.Content {
		if tc, ok := ct.(*sdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("%s: %s", tool, b.String())
	}
	return b.String(), nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// Register announces the control endpoint to the registry at MCP_URL.
// It is a no-op when MCP_URL is unset.
func Register(name, endpoint string) error {
	registry := strings.TrimRight(os.Getenv("MCP_URL"), "/")
	if registry == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]string{"name": name, "url": endpoint})
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(registry+"/mcp/register", "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp register failed: %s", resp.Status)
	}
	logging.Infow("registered with mcp", "name", name, "registry", registry)
	return nil
}

// Package relay connects out to a tool relay over WebSocket, for devices
// behind NAT that cannot accept inbound MCP connections. The relay sends
// tool calls down the socket; each call runs against the local tools and
// its result is written back tagged with the request id.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mj1618/droid-order/internal/ctxlog"
)

// Message types on the wire.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeCall       = "call"
	TypeResult     = "result"
	TypePong       = "pong"
)

// Message is any frame the relay sends or the client registers with.
type Message struct {
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Tools      []mcp.Tool     `json:"tools,omitempty"`
	DeviceID   string         `json:"device_id,omitempty"`
	ToolsCount int            `json:"tools_count,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Tool       string         `json:"tool,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// Result answers a call.
type Result struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Tools is the local tool surface.
type Tools interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// Options configures a Client.
type Options struct {
	URL            string
	Name           string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	PongWait       time.Duration
	Dialer         *websocket.Dialer
}

// ErrRegisterRejected is returned when the relay answers the register
// frame with anything but "registered".
var ErrRegisterRejected = errors.New("relay rejected registration")

// Client is a reconnecting relay client.
type Client struct {
	tools Tools
	opts  Options
}

// New creates a Client.
func New(tools Tools, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = opts.PingInterval + 10*time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment}
	}
	return &Client{tools: tools, opts: opts}
}

// Run keeps a session open until ctx is done, reconnecting after
// ReconnectDelay whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	if c.opts.URL == "" {
		return errors.New("relay url is empty")
	}
	ctx = ctxlog.With(ctx, "relay", c.opts.URL)
	log := ctxlog.FromContext(ctx)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			log.Info("relay client stopped")
			return nil
		}
		log.Warn("relay connection lost, reconnecting", "error", err, "delay", c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to disconnect. Calls still in
// flight when it ends are cancelled.
func (c *Client) session(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := &writer{conn: conn}
	if err := c.register(ctx, conn, w); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	go c.ping(ctx, w)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("ignoring invalid relay frame", "error", err)
			continue
		}
		switch msg.Type {
		case TypeCall:
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.call(ctx, w, msg)
			}()
		case TypePong:
		default:
			log.Debug("ignoring relay frame", "type", msg.Type)
		}
	}
}

func (c *Client) register(ctx context.Context, conn *websocket.Conn, w *writer) error {
	tools := c.tools.Tools()
	if err := w.write(Message{Type: TypeRegister, Name: c.opts.Name, Tools: tools}); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	var ack Message
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if ack.Type != TypeRegistered {
		return fmt.Errorf("%w: got %q", ErrRegisterRejected, ack.Type)
	}
	ctxlog.FromContext(ctx).Info("registered with relay", "device_id", ack.DeviceID, "tools", len(tools))
	return nil
}

func (c *Client) call(ctx context.Context, w *writer, msg Message) {
	ctx = ctxlog.With(ctx, "request_id", msg.RequestID, "tool", msg.Tool)
	log := ctxlog.FromContext(ctx)
	log.Info("relay tool call")

	res := Result{Type: TypeResult, RequestID: msg.RequestID}
	out, err := c.tools.CallTool(ctx, msg.Tool, msg.Args)
	switch {
	case err != nil:
		res.Error = err.Error()
	case out.IsError:
		res.Error = toolText(out)
		res.Data = out.StructuredContent
	default:
		res.Success = true
		res.Data = out.StructuredContent
		if res.Data == nil {
			res.Data = toolText(out)
		}
	}
	if err := w.write(res); err != nil {
		log.Warn("relay result not delivered", "error", err)
		return
	}
	log.Info("relay tool call answered", "success", res.Success)
}

func (c *Client) ping(ctx context.Context, w *writer) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := w.control(websocket.PingMessage, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

// writer serializes writes; a websocket.Conn allows one concurrent writer.
type writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *writer) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteJSON(v)
}

func (w *writer) control(messageType int, deadline time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(messageType, nil, deadline)
}

func toolText(res *mcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

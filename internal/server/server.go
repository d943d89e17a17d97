// Package server exposes the ordering tasks as MCP tools over stdio or
// streamable HTTP, next to a /health endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mj1618/droid-order/internal/coordinator"
	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/notify"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/screen"
	"github.com/mj1618/droid-order/internal/service"
)

// Tasks is the task-submission boundary.
type Tasks interface {
	SubmitTask(ctx context.Context, kind service.Kind, params map[string]any) model.Result
	Current() (*coordinator.TaskHandle, bool)
}

// Device is the read-only device surface the observation tools use.
type Device interface {
	Connect(ctx context.Context) bool
	Info(ctx context.Context) (platform.DeviceInfo, error)
	Peek(ctx context.Context) ([]model.Element, error)
	Screenshot(ctx context.Context, opts platform.ScreenshotOptions) ([]byte, error)
	Notifications(ctx context.Context) ([]model.Notification, error)
}

// Events exposes recently forwarded notifications.
type Events interface {
	Recent() []notify.Event
}

// Options configures a Server.
type Options struct {
	Name      string
	Version   string
	Endpoint  string        // streamable HTTP path, default /mcp
	ScreenTTL time.Duration // get_screen cache; 0 disables
	Stats     *platform.FailureStats
}

// Server wraps the MCP server with the task boundary and device.
type Server struct {
	tasks  Tasks
	dev    Device
	events Events
	opts   Options
	screen *screen.Extractor
	cache  *ScreenCache
	mcp    *mcpserver.MCPServer
}

// New creates a Server with every tool registered. events may be nil when
// notification polling is off.
func New(tasks Tasks, dev Device, events Events, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "droid-order"
	}
	if opts.Endpoint == "" {
		opts.Endpoint = "/mcp"
	}
	s := &Server{
		tasks:  tasks,
		dev:    dev,
		events: events,
		opts:   opts,
		screen: screen.NewExtractor(peekDevice{dev}, opts.Stats),
		cache:  NewScreenCache(opts.ScreenTTL),
	}
	s.mcp = mcpserver.NewMCPServer(
		opts.Name,
		opts.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("通过手机自动化在外卖 App 拼好饭中搜索套餐、下单、支付和查询订单。"),
	)
	s.registerTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcpserver.MCPServer { return s.mcp }

// Tools returns the registered tool definitions sorted by name.
func (s *Server) Tools() []mcp.Tool {
	registered := s.mcp.ListTools()
	tools := make([]mcp.Tool, 0, len(registered))
	for _, t := range registered {
		tools = append(tools, t.Tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ErrUnknownTool is returned by CallTool for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// CallTool invokes a tool by name outside an MCP session, for the relay.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t := s.mcp.GetTool(name)
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return t.Handler(ctx, req)
}

// ServeStdio serves MCP over in/out until ctx is done or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	ctxlog.FromContext(ctx).Info("serving MCP over stdio", "tools", len(s.mcp.ListTools()))
	return mcpserver.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// Handler returns the HTTP surface: the MCP endpoint and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.opts.Endpoint, mcpserver.NewStreamableHTTPServer(s.mcp,
		mcpserver.WithEndpointPath(s.opts.Endpoint),
		mcpserver.WithStateLess(true),
	))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ServeHTTP listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	log := ctxlog.FromContext(ctx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("serving MCP over streamable HTTP", "addr", addr, "endpoint", s.opts.Endpoint)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		log.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// peekDevice reads the screen without disturbing a flow's index space.
type peekDevice struct{ dev Device }

func (p peekDevice) ReadElements(ctx context.Context) ([]model.Element, error) {
	return p.dev.Peek(ctx)
}

func (p peekDevice) Info(ctx context.Context) (platform.DeviceInfo, error) {
	return p.dev.Info(ctx)
}

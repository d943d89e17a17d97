package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mj1618/droid-order/internal/config"
	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an MCP server exposing the ordering tools",
	Long: `Start a Model Context Protocol (MCP) server that exposes the ordering
tasks (search_meals, place_order, confirm_payment, check_order_status,
execute_task) and the read-only device tools as MCP tools.

Alongside the server it polls device notifications for delivery keywords,
forwards them to the configured webhooks, and reloads keywords and webhook
targets when the config file changes. With relay.url set it also keeps a
reverse WebSocket connection to the relay.

Supported transports:
  http    Streamable HTTP on server.host:server.port (default)
  stdio   Standard I/O, for local MCP clients

Examples:
  droid-order serve
  droid-order serve --port 9000
  droid-order serve --transport stdio --log-level warn`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("transport", "http", "Transport: http, stdio")
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides server.port)")
	serveCmd.Flags().Bool("no-relay", false, "Do not connect to relay.url even if set")
	serveCmd.Flags().Bool("no-watch", false, "Do not reload the config file on change")
}

func runServe(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	if transport != "http" && transport != "stdio" {
		return fmt.Errorf("unsupported transport: %s (use http or stdio)", transport)
	}
	cfg := appConfig
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	noRelay, _ := cmd.Flags().GetBool("no-relay")
	noWatch, _ := cmd.Flags().GetBool("no-watch")

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up device: %w", err)
	}
	defer a.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if !a.session.Connect(ctx) {
		ctxlog.FromContext(ctx).Warn("device not reachable at startup, tasks will retry", "target", cfg.Device.Target)
	}

	g, ctx := errgroup.WithContext(ctx)
	switch transport {
	case "stdio":
		g.Go(func() error {
			// The client closing stdin ends the process.
			defer cancel()
			return a.server.ServeStdio(ctx, os.Stdin, os.Stdout)
		})
	default:
		g.Go(func() error { return a.server.ServeHTTP(ctx, cfg.Server.Addr()) })
	}
	startBackground(ctx, g, a, !noRelay, !noWatch)
	return g.Wait()
}

// startBackground starts the loops shared by serve and relay: the
// notification poller, config reload, trace cleanup and the relay client.
func startBackground(ctx context.Context, g *errgroup.Group, a *app, withRelay, withWatch bool) {
	cfg := a.cfg
	if cfg.Notification.Enabled {
		g.Go(func() error { return a.poller.Run(ctxlog.With(ctx, "component", "notify")) })
	}
	if withWatch {
		g.Go(func() error {
			err := config.Watch(ctxlog.With(ctx, "component", "config"), configPath, func(next config.Config) {
				a.reload(ctx, next)
			})
			if err != nil {
				// A missing config directory is not worth stopping the server.
				ctxlog.FromContext(ctx).Warn("config watch disabled", "error", err)
			}
			return nil
		})
	}
	if a.tracer != nil && cfg.Debug.MaxAge > 0 {
		g.Go(func() error {
			cleanTraces(ctx, a, cfg.Debug.MaxAge)
			return nil
		})
	}
	if withRelay && cfg.Relay.URL != "" {
		g.Go(func() error {
			return newRelay(a).Run(ctxlog.With(ctx, "component", "relay"))
		})
	}
}

func newRelay(a *app) *relay.Client {
	return relay.New(a.server, relay.Options{
		URL:            a.cfg.Relay.URL,
		Name:           a.cfg.Relay.Name,
		ReconnectDelay: a.cfg.Relay.ReconnectDelay,
	})
}

// cleanTraces removes trace sessions older than maxAge, once at start and
// then hourly.
func cleanTraces(ctx context.Context, a *app, maxAge time.Duration) {
	log := ctxlog.FromContext(ctx)
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		if n := a.tracer.CleanOld(maxAge); n > 0 {
			log.Info("removed old trace sessions", "count", n, "dir", a.tracer.Dir())
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

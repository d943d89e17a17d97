package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mj1618/droid-order/internal/ctxlog"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve the MCP tools through a reverse WebSocket relay",
	Long: `Dial out to a relay over WebSocket, register the MCP tool list and answer
the tool calls the relay forwards. Use this when the machine driving the
phone cannot accept inbound connections. The connection is re-established
after drops; notification polling and config reload run as with serve.

Examples:
  droid-order relay --url wss://relay.example.com/ws/device
  droid-order relay --name kitchen-phone`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().String("url", "", "Relay WebSocket URL (overrides relay.url)")
	relayCmd.Flags().String("name", "", "Device name announced to the relay (overrides relay.name)")
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Relay.URL = url
	}
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		cfg.Relay.Name = name
	}
	if cfg.Relay.URL == "" {
		return errors.New("no relay url: set relay.url or pass --url")
	}

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
	startBackground(ctx, g, a, true, true)
	return g.Wait()
}

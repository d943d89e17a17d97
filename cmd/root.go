package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mj1618/droid-order/internal/config"
	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/output"
)

// Build metadata, set with -ldflags "-X".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	configPath string
	appConfig  config.Config
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "droid-order",
	Short: "Order food on an Android phone by driving the delivery app",
	Long: `droid-order drives a food-delivery app on an Android phone over adb: it
searches group-buy meals, places orders up to the payment page, confirms
payment, checks order status and forwards delivery notifications. The tasks
are exposed as MCP tools (serve, relay) and as one-shot commands.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Config file (missing file = defaults)")
	rootCmd.PersistentFlags().String("format", "", "Output format: yaml, json (default: json when piped, yaml otherwise)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	rootCmd.PersistentFlags().String("device", "", "adb target, host:port or serial (overrides device.target)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Indent JSON output")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if device, _ := rootCmd.PersistentFlags().GetString("device"); device != "" {
			cfg.Device.Target = device
		}
		if level, _ := rootCmd.PersistentFlags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		appConfig = cfg

		logger = ctxlog.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
		slog.SetDefault(logger)

		// Smart default: piped output (agent context) gets JSON, a
		// terminal gets YAML.
		format, _ := rootCmd.PersistentFlags().GetString("format")
		if format == "" {
			format = string(output.FormatYAML)
			if output.IsOutputPiped() {
				format = string(output.FormatJSON)
			}
		}
		f, err := output.ParseFormat(format)
		if err != nil {
			return err
		}
		output.OutputFormat = f
		output.PrettyOutput, _ = rootCmd.PersistentFlags().GetBool("pretty")
		return nil
	}
}

// commandContext returns a context cancelled on SIGINT or SIGTERM that
// carries the logger.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if logger != nil {
		ctx = ctxlog.WithLogger(ctx, logger.With("command", cmd.Name()))
	}
	return ctx, cancel
}

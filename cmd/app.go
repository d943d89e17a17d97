package cmd

import (
	"context"
	"time"

	"github.com/mj1618/droid-order/internal/automation"
	"github.com/mj1618/droid-order/internal/config"
	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/extract"
	"github.com/mj1618/droid-order/internal/llm"
	"github.com/mj1618/droid-order/internal/notify"
	"github.com/mj1618/droid-order/internal/platform"
	_ "github.com/mj1618/droid-order/internal/platform/adb"
	"github.com/mj1618/droid-order/internal/popup"
	"github.com/mj1618/droid-order/internal/server"
	"github.com/mj1618/droid-order/internal/service"
	"github.com/mj1618/droid-order/internal/trace"
)

// screenCacheTTL lets bursts of get_screen calls share one dump.
const screenCacheTTL = 500 * time.Millisecond

// app is the wired service graph shared by every command.
type app struct {
	cfg       config.Config
	provider  *platform.Provider
	session   *platform.Session
	llm       *llm.Client // nil without an API key
	tracer    *trace.Recorder
	automator *automation.Automator
	service   *service.Service
	poller    *notify.Poller
	server    *server.Server
}

func newApp(cfg config.Config) (*app, error) {
	provider, err := platform.NewProvider(platform.Options{
		ADBPath:        cfg.Device.ADBPath,
		Target:         cfg.Device.Target,
		CommandTimeout: cfg.Device.CommandTimeout,
		IMEBroadcast:   cfg.Device.IMEBroadcast,
	})
	if err != nil {
		return nil, err
	}
	session := platform.NewSession(provider, nil)
	a := &app{
		cfg:      cfg,
		provider: provider,
		session:  session,
		tracer:   trace.New(cfg.Debug.Dir),
	}

	// Interfaces stay nil rather than holding a nil *llm.Client.
	var completer extract.Completer
	var vision popup.Vision
	if cfg.LLM.APIKey != "" {
		a.llm = llm.New(llm.Options{
			BaseURL:       cfg.LLM.BaseURL,
			APIKey:        cfg.LLM.APIKey,
			Model:         cfg.LLM.Model,
			VisionModel:   cfg.LLM.VisionModel,
			Timeout:       cfg.LLM.Timeout,
			VisionTimeout: cfg.LLM.VisionTimeout,
		})
		completer = a.llm
		if cfg.Popup.Vision {
			vision = a.llm
		}
	}

	popups := popup.New(session, vision, popup.Options{
		ScreenHeight:   cfg.Popup.ScreenHeight,
		VisionMaxWidth: cfg.Popup.VisionMaxWidth,
		Settle:         cfg.Automation.Settle,
		Stats:          session.Stats,
	})
	parser := extract.NewParser(completer, extract.Options{
		MaxResults:        cfg.Extract.MaxResults,
		VerticalThreshold: cfg.Extract.VerticalThreshold,
		MaxTexts:          cfg.Extract.MaxTexts,
		WindowAbove:       cfg.Extract.WindowAbove,
		WindowBelow:       cfg.Extract.WindowBelow,
	})

	opts := automation.DefaultOptions()
	opts.Package = cfg.Device.AppPackage
	opts.WaitTimeout = cfg.Automation.WaitTimeout
	opts.PollInterval = cfg.Automation.PollInterval
	opts.Settle = cfg.Automation.Settle
	opts.PaymentTimeout = cfg.Automation.PaymentTimeout
	opts.ResultsTimeout = cfg.Automation.ResultsTimeout
	opts.PopupAttempts = cfg.Popup.MaxAttempts
	opts.FreeFormSteps = cfg.Automation.FreeFormSteps
	opts.FreeFormTimeout = cfg.Automation.FreeFormTimeout
	a.automator = automation.New(automation.Deps{
		Device: session,
		Popups: popups,
		Parser: parser,
		LLM:    completer,
		Tracer: a.tracer,
	}, opts)

	a.service = service.New(session, a.automator, service.Options{
		Package:    cfg.Device.AppPackage,
		MaxResults: cfg.Extract.MaxResults,
		CancelWait: cfg.Coordinator.CancelWait,
	})

	a.poller = notify.NewPoller(session, cfg.Notification.CheckInterval, cfg.Notification.Keywords)
	a.poller.SetSinks(notify.Sinks(cfg)...)

	a.server = server.New(a.service, session, a.poller, server.Options{
		Name:      cfg.Relay.Name,
		Version:   Version,
		Endpoint:  cfg.Server.Endpoint,
		ScreenTTL: screenCacheTTL,
		Stats:     session.Stats,
	})
	return a, nil
}

// reload applies the settings that can change without a restart.
func (a *app) reload(ctx context.Context, cfg config.Config) {
	sinks := notify.Sinks(cfg)
	a.poller.SetKeywords(cfg.Notification.Keywords)
	a.poller.SetSinks(sinks...)
	ctxlog.FromContext(ctx).Info("applied config reload",
		"keywords", len(cfg.Notification.Keywords), "sinks", len(sinks))
}

func (a *app) Close() error {
	a.poller.SetSinks()
	if a.llm != nil {
		return a.llm.Close()
	}
	return nil
}

// Package config loads the service configuration from YAML with defaults
// and environment overrides for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAppPackage is the delivery app driven by the automation.
const DefaultAppPackage = "com.sankuai.meituan.takeoutnew"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Device       DeviceConfig       `yaml:"device"`
	LLM          LLMConfig          `yaml:"llm"`
	Coordinator  CoordinatorConfig  `yaml:"coordinator"`
	Extract      ExtractConfig      `yaml:"extract"`
	Popup        PopupConfig        `yaml:"popup"`
	Automation   AutomationConfig   `yaml:"automation"`
	Notification NotificationConfig `yaml:"notification"`
	Robot        WebhookConfig      `yaml:"robot"`
	Platform     WebhookConfig      `yaml:"platform"`
	Relay        RelayConfig        `yaml:"relay"`
	Debug        DebugConfig        `yaml:"debug"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Endpoint string `yaml:"endpoint"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DeviceConfig struct {
	ADBPath        string        `yaml:"adb_path"`
	Target         string        `yaml:"target"` // host:port or serial; empty = first attached device
	CommandTimeout time.Duration `yaml:"command_timeout"`
	IMEBroadcast   bool          `yaml:"ime_broadcast"`
	AppPackage     string        `yaml:"app_package"`
}

type LLMConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	VisionModel   string        `yaml:"vision_model"`
	Timeout       time.Duration `yaml:"timeout"`
	VisionTimeout time.Duration `yaml:"vision_timeout"`
}

type CoordinatorConfig struct {
	CancelWait time.Duration `yaml:"cancel_wait"`
}

type ExtractConfig struct {
	MaxResults        int `yaml:"max_results"`
	VerticalThreshold int `yaml:"vertical_threshold"`
	WindowAbove       int `yaml:"window_above"`
	WindowBelow       int `yaml:"window_below"`
	MaxTexts          int `yaml:"max_texts"`
}

type PopupConfig struct {
	MaxAttempts    int  `yaml:"max_attempts"`
	ScreenHeight   int  `yaml:"screen_height"` // used when the device does not report one
	Vision         bool `yaml:"vision"`
	VisionMaxWidth int  `yaml:"vision_max_width"`
}

type AutomationConfig struct {
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	Settle          time.Duration `yaml:"settle"`
	PaymentTimeout  time.Duration `yaml:"payment_timeout"`
	ResultsTimeout  time.Duration `yaml:"results_timeout"`
	FreeFormSteps   int           `yaml:"free_form_max_steps"`
	FreeFormTimeout time.Duration `yaml:"free_form_timeout"`
}

type NotificationConfig struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	Keywords      []string      `yaml:"keywords"`
}

// WebhookConfig is an outbound HTTP target for delivery notifications.
type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type RelayConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type DebugConfig struct {
	Dir    string        `yaml:"dir"` // empty disables step traces
	MaxAge time.Duration `yaml:"max_age"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8765, Endpoint: "/mcp"},
		Device: DeviceConfig{
			ADBPath:        "adb",
			CommandTimeout: 15 * time.Second,
			IMEBroadcast:   true,
			AppPackage:     DefaultAppPackage,
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			VisionModel:   "qwen-vl-plus",
			Timeout:       60 * time.Second,
			VisionTimeout: 30 * time.Second,
		},
		Coordinator: CoordinatorConfig{CancelWait: 5 * time.Second},
		Extract: ExtractConfig{
			MaxResults:        3,
			VerticalThreshold: 350,
			WindowAbove:       350,
			WindowBelow:       80,
			MaxTexts:          100,
		},
		Popup: PopupConfig{MaxAttempts: 3, ScreenHeight: 2400, Vision: true, VisionMaxWidth: 720},
		Automation: AutomationConfig{
			WaitTimeout:     3 * time.Second,
			PollInterval:    300 * time.Millisecond,
			Settle:          time.Second,
			PaymentTimeout:  5 * time.Second,
			ResultsTimeout:  5 * time.Second,
			FreeFormSteps:   20,
			FreeFormTimeout: 300 * time.Second,
		},
		Notification: NotificationConfig{
			Enabled:       true,
			CheckInterval: 3 * time.Second,
			Keywords:      []string{"外卖已送达", "订单已完成", "骑手已送达", "已送达", "请取餐"},
		},
		Robot:    WebhookConfig{URL: "http://localhost:8000/robot/notify", Timeout: 10 * time.Second},
		Platform: WebhookConfig{Timeout: 10 * time.Second},
		Relay:    RelayConfig{Name: "droid-order", ReconnectDelay: 5 * time.Second},
		Debug:    DebugConfig{MaxAge: 24 * time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	applyEnv(&cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays secrets and deployment-specific values from the
// environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.LLM.APIKey, "LLM_API_KEY")
	set(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	set(&cfg.LLM.Model, "LLM_MODEL")
	set(&cfg.Device.Target, "ADB_TARGET")
	set(&cfg.Relay.URL, "MCP_RELAY_URL")
	set(&cfg.Robot.APIKey, "ROBOT_API_KEY")
	set(&cfg.Platform.APIKey, "PLATFORM_API_KEY")
}

// Validate checks values that would otherwise fail deep inside a request.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Device.AppPackage == "" {
		errs = append(errs, errors.New("device.app_package is required"))
	}
	if c.Extract.MaxResults <= 0 {
		errs = append(errs, fmt.Errorf("extract.max_results must be positive, got %d", c.Extract.MaxResults))
	}
	if c.Extract.WindowAbove < 0 || c.Extract.WindowBelow < 0 {
		errs = append(errs, errors.New("extract window bounds must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"automation.wait_timeout":      c.Automation.WaitTimeout,
		"automation.payment_timeout":   c.Automation.PaymentTimeout,
		"automation.results_timeout":   c.Automation.ResultsTimeout,
		"automation.free_form_timeout": c.Automation.FreeFormTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Automation.FreeFormSteps <= 0 {
		errs = append(errs, fmt.Errorf("automation.free_form_max_steps must be positive, got %d", c.Automation.FreeFormSteps))
	}
	if c.Automation.Settle < 0 {
		errs = append(errs, errors.New("automation.settle must not be negative"))
	}
	if c.Popup.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("popup.max_attempts must be positive, got %d", c.Popup.MaxAttempts))
	}
	if c.Coordinator.CancelWait <= 0 {
		errs = append(errs, errors.New("coordinator.cancel_wait must be positive"))
	}
	if c.Notification.Enabled && c.Notification.CheckInterval <= 0 {
		errs = append(errs, errors.New("notification.check_interval must be positive"))
	}
	if c.Robot.Enabled && c.Robot.URL == "" {
		errs = append(errs, errors.New("robot.url is required when robot is enabled"))
	}
	if c.Platform.Enabled && c.Platform.URL == "" {
		errs = append(errs, errors.New("platform.url is required when platform is enabled"))
	}
	return errors.Join(errs...)
}

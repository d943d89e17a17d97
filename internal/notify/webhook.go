package notify

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/mj1618/droid-order/internal/config"
	"github.com/mj1618/droid-order/internal/model"
)

// Target selects the payload shape a webhook receives.
type Target string

const (
	// Robot receives {"action":"delivery_arrived","message","timestamp"}.
	Robot Target = "robot"
	// Platform receives {"event":"delivery_notification","text","timestamp"}.
	Platform Target = "platform"
)

const defaultWebhookTimeout = 10 * time.Second

type robotPayload struct {
	Action    string  `json:"action"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

type platformPayload struct {
	Event     string  `json:"event"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// Webhook posts notifications as JSON, with bearer auth when an API key is
// configured.
type Webhook struct {
	target Target
	url    string
	rc     *resty.Client
	now    func() time.Time
}

// NewWebhook creates a Webhook for target.
func NewWebhook(target Target, cfg config.WebhookConfig) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}
	return &Webhook{target: target, url: cfg.URL, rc: rc, now: time.Now}
}

// Sinks builds the enabled webhooks from configuration.
func Sinks(cfg config.Config) []Sink {
	var sinks []Sink
	if cfg.Robot.Enabled {
		sinks = append(sinks, NewWebhook(Robot, cfg.Robot))
	}
	if cfg.Platform.Enabled {
		sinks = append(sinks, NewWebhook(Platform, cfg.Platform))
	}
	return sinks
}

// Name implements Sink.
func (w *Webhook) Name() string { return string(w.target) }

// Deliver implements Sink.
func (w *Webhook) Deliver(ctx context.Context, n model.Notification) error {
	resp, err := w.rc.R().
		SetContext(ctx).
		SetBody(w.payload(n)).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("%s webhook: %w", w.target, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s webhook: HTTP %d: %s", w.target, resp.StatusCode(), model.Truncate(resp.String(), 200))
	}
	return nil
}

func (w *Webhook) payload(n model.Notification) any {
	ts := float64(w.now().UnixMilli()) / 1000
	if w.target == Platform {
		text := n.Text
		if text == "" {
			text = n.Title
		}
		return platformPayload{Event: "delivery_notification", Text: text, Timestamp: ts}
	}
	return robotPayload{Action: "delivery_arrived", Message: n.Title + " | " + n.Text, Timestamp: ts}
}

// Close releases idle connections.
func (w *Webhook) Close() error {
	return w.rc.Close()
}

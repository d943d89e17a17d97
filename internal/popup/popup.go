// Package popup clears promotional dialogs and overlays that block the
// ordering flows.
package popup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/llm"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
)

// Labels are the button texts that close a dialog without side effects.
var Labels = []string{"我知道了", "关闭", "暂不", "取消", "开心收下", "以后再说"}

// closeResourceID marks close buttons that carry no text.
const closeResourceID = "btn_close"

// Close icons are small square-ish views in the lower half of the screen.
const (
	iconMinSize = 50
	iconMaxSize = 200
)

const visionPrompt = `这是一张外卖 App 的手机截图。判断屏幕上是否有弹窗（广告、优惠券、活动提示等）遮挡页面。
如果有，给出关闭按钮（通常是 X 图标或"关闭"、"我知道了"等按钮）中心点在这张图片中的像素坐标。
只返回 JSON，不要其他内容：
{"has_popup": true, "close_button": {"x": 0, "y": 0}}
没有弹窗时返回：{"has_popup": false, "close_button": null}`

// Strategy names the tier that found a close target.
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyLabel     Strategy = "label"
	StrategyGeometric Strategy = "geometric"
	StrategyVision    Strategy = "vision"
)

// Device is the part of the device session dismissal uses.
type Device interface {
	ReadElements(ctx context.Context) ([]model.Element, error)
	Info(ctx context.Context) (platform.DeviceInfo, error)
	TapElement(ctx context.Context, el model.Element) error
	TapPoint(ctx context.Context, x, y int) error
	Screenshot(ctx context.Context, opts platform.ScreenshotOptions) ([]byte, error)
}

// Vision locates a close button on a screenshot.
type Vision interface {
	CompleteWithImage(ctx context.Context, prompt string, image []byte) (string, error)
}

// Options tunes the dismisser.
type Options struct {
	ScreenHeight   int           // used when the device does not report one
	VisionMaxWidth int           // screenshots are downscaled to this width for the model
	Settle         time.Duration // pause after each tap; zero disables it
	// Stats counts tolerated tap and device-info failures. Nil gets a
	// private counter set.
	Stats *platform.FailureStats
}

// Failure counter names.
const (
	OpTap  = "popup_tap"
	OpInfo = "popup_device_info"
)

// Dismisser runs the label, geometric, and vision tiers in that order.
type Dismisser struct {
	dev    Device
	vision Vision
	opts   Options
}

// New creates a Dismisser. vision may be nil to disable the third tier.
func New(dev Device, vision Vision, opts Options) *Dismisser {
	if opts.ScreenHeight <= 0 {
		opts.ScreenHeight = 2400
	}
	if opts.VisionMaxWidth <= 0 {
		opts.VisionMaxWidth = 540
	}
	if opts.Stats == nil {
		opts.Stats = platform.NewFailureStats()
	}
	return &Dismisser{dev: dev, vision: vision, opts: opts}
}

// Dismiss closes popups for up to maxAttempts rounds. A further round runs
// only when the previous one closed something, so a clean screen costs one
// round and no taps. It reports whether anything was closed.
func (d *Dismisser) Dismiss(ctx context.Context, maxAttempts int) bool {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	log := ctxlog.FromContext(ctx)
	dismissed := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		strategy, ok := d.round(ctx)
		if !ok {
			break
		}
		log.Info("popup dismissed", "strategy", string(strategy), "attempt", attempt)
		dismissed = true
		if err := sleepCtx(ctx, d.opts.Settle); err != nil {
			break
		}
	}
	return dismissed
}

func (d *Dismisser) round(ctx context.Context) (Strategy, bool) {
	log := ctxlog.FromContext(ctx)
	elements, err := d.dev.ReadElements(ctx)
	if err != nil {
		log.Warn("popup check: read screen failed", "error", err)
		return StrategyNone, false
	}

	// A failed tap falls through to the next tier.
	if el, ok := FindLabel(elements); ok {
		err := d.dev.TapElement(ctx, el)
		if err == nil {
			return StrategyLabel, true
		}
		d.opts.Stats.Record(ctx, OpTap, fmt.Errorf("%s %q: %w", StrategyLabel, el.Label(), err))
	}

	height := d.opts.ScreenHeight
	if info, err := d.dev.Info(ctx); err == nil {
		height = info.ScreenHeightOr(height)
	} else {
		d.opts.Stats.Record(ctx, OpInfo, err)
	}
	if el, ok := FindCloseIcon(elements, height); ok {
		err := d.dev.TapElement(ctx, el)
		if err == nil {
			return StrategyGeometric, true
		}
		d.opts.Stats.Record(ctx, OpTap, fmt.Errorf("%s: %w", StrategyGeometric, err))
	}

	if d.vision != nil {
		x, y, err := d.locate(ctx)
		if err != nil {
			log.Debug("vision popup check found nothing", "error", err)
			return StrategyNone, false
		}
		err = d.dev.TapPoint(ctx, x, y)
		if err == nil {
			return StrategyVision, true
		}
		d.opts.Stats.Record(ctx, OpTap, fmt.Errorf("%s: %w", StrategyVision, err))
	}
	return StrategyNone, false
}

// FindLabel returns the first element, in dump order, whose trimmed text
// or description is a known close label or whose resource id marks a close
// button.
func FindLabel(elements []model.Element) (model.Element, bool) {
	for _, el := range elements {
		if strings.Contains(el.ResourceID, closeResourceID) {
			return el, true
		}
		for _, label := range Labels {
			if strings.TrimSpace(el.Text) == label || strings.TrimSpace(el.ContentDesc) == label {
				return el, true
			}
		}
	}
	return model.Element{}, false
}

// FindCloseIcon returns the first clickable, unlabelled FrameLayout or
// ImageView between 50 and 200 pixels on each side whose top edge is in the
// lower half of a screen of the given height.
func FindCloseIcon(elements []model.Element, screenHeight int) (model.Element, bool) {
	for _, el := range elements {
		if !el.Clickable || el.Text != "" || el.ContentDesc != "" {
			continue
		}
		if !strings.HasSuffix(el.Class, "FrameLayout") && !strings.HasSuffix(el.Class, "ImageView") {
			continue
		}
		w, h := el.Width(), el.Height()
		if w < iconMinSize || w > iconMaxSize || h < iconMinSize || h > iconMaxSize {
			continue
		}
		if el.Top() > screenHeight/2 {
			return el, true
		}
	}
	return model.Element{}, false
}

type visionReply struct {
	HasPopup    bool `json:"has_popup"`
	CloseButton *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"close_button"`
}

// locate asks the vision model for the close button and maps its answer
// from screenshot pixels back to device pixels.
func (d *Dismisser) locate(ctx context.Context) (int, int, error) {
	shot, err := d.dev.Screenshot(ctx, platform.ScreenshotOptions{
		Format:   "jpg",
		Quality:  70,
		MaxWidth: d.opts.VisionMaxWidth,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("screenshot: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(shot))
	if err != nil {
		return 0, 0, fmt.Errorf("decode screenshot: %w", err)
	}

	reply, err := d.vision.CompleteWithImage(ctx, visionPrompt, shot)
	if err != nil {
		return 0, 0, err
	}
	raw, ok := llm.ExtractJSON(reply)
	if !ok {
		return 0, 0, fmt.Errorf("vision reply has no JSON: %q", model.Truncate(reply, 80))
	}
	var v visionReply
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return 0, 0, fmt.Errorf("decode vision reply: %w", err)
	}
	if !v.HasPopup || v.CloseButton == nil {
		return 0, 0, fmt.Errorf("no popup reported")
	}

	info, err := d.dev.Info(ctx)
	if err != nil {
		// Unscaled coordinates are still right when no downscale happened.
		d.opts.Stats.Record(ctx, OpInfo, err)
	}
	scaleX, scaleY := 1.0, 1.0
	if info.Width > 0 && cfg.Width > 0 {
		scaleX = float64(info.Width) / float64(cfg.Width)
	}
	if info.Height > 0 && cfg.Height > 0 {
		scaleY = float64(info.Height) / float64(cfg.Height)
	}
	return int(v.CloseButton.X * scaleX), int(v.CloseButton.Y * scaleY), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

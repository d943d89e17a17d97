package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/platform"
)

var wmSizeRe = regexp.MustCompile(`(\d+)x(\d+)`)

// Connector manages the adb link. For a host:port target it reconnects
// over TCP when the device has dropped off "adb devices".
type Connector struct {
	r     *Runner
	group singleflight.Group
}

// NewConnector creates a new Connector.
func NewConnector(r *Runner) *Connector {
	return &Connector{r: r}
}

// Connect implements platform.Connector. Concurrent callers share one
// reconnect attempt.
func (c *Connector) Connect(ctx context.Context) error {
	_, err, _ := c.group.Do("connect", func() (any, error) {
		return nil, c.connect(ctx)
	})
	return err
}

func (c *Connector) connect(ctx context.Context) error {
	online, err := c.online(ctx)
	if err != nil {
		return err
	}
	if online {
		return nil
	}
	target := c.r.Target()
	if !strings.Contains(target, ":") {
		return fmt.Errorf("%w: %s", platform.ErrNotConnected, describeTarget(target))
	}

	log := ctxlog.FromContext(ctx)
	log.Info("reconnecting to device", "target", target)
	// A stale entry ("offline") blocks a fresh connect.
	c.r.Global(ctx, "disconnect", target)
	out, err := c.r.Global(ctx, "connect", target)
	if err != nil {
		return fmt.Errorf("%w: %v", platform.ErrNotConnected, err)
	}
	if !strings.Contains(out, "connected to") {
		return fmt.Errorf("%w: %s", platform.ErrNotConnected, strings.TrimSpace(out))
	}
	online, err = c.online(ctx)
	if err != nil {
		return err
	}
	if !online {
		return fmt.Errorf("%w: %s not listed after connect", platform.ErrNotConnected, target)
	}
	log.Info("device connected", "target", target)
	return nil
}

// online reports whether the target (or any device when no target is set)
// is listed in the "device" state.
func (c *Connector) online(ctx context.Context) (bool, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return false, err
	}
	for _, dev := range devices {
		if dev.State != "device" {
			continue
		}
		if c.r.Target() == "" || dev.Serial == c.r.Target() {
			return true, nil
		}
	}
	return false, nil
}

// Devices lists every device adb knows about, in any state.
func (c *Connector) Devices(ctx context.Context) ([]Device, error) {
	out, err := c.r.Global(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return ParseDevices(out), nil
}

// Info implements platform.Connector.
func (c *Connector) Info(ctx context.Context) (platform.DeviceInfo, error) {
	var info platform.DeviceInfo
	serial, err := c.r.Run(ctx, "get-serialno")
	if err != nil {
		return info, fmt.Errorf("%w: %v", platform.ErrNotConnected, err)
	}
	info.Serial = strings.TrimSpace(serial)
	if name, err := c.r.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.Name = strings.TrimSpace(name)
	}
	if sdk, err := c.r.Shell(ctx, "getprop ro.build.version.sdk"); err == nil {
		info.SDK, _ = strconv.Atoi(strings.TrimSpace(sdk))
	}
	if size, err := c.r.Shell(ctx, "wm size"); err == nil {
		info.Width, info.Height = parseWMSize(size)
	}
	return info, nil
}

// Device is one line of "adb devices".
type Device struct {
	Serial string `yaml:"serial" json:"serial"`
	State  string `yaml:"state"  json:"state"`
}

// ParseDevices parses "adb devices" output.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devices = append(devices, Device{Serial: fields[0], State: fields[1]})
	}
	return devices
}

// parseWMSize reads "Physical size: 1080x2400", preferring an override
// size when one is reported.
func parseWMSize(out string) (int, int) {
	var w, h int
	for _, line := range strings.Split(out, "\n") {
		m := wmSizeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		w, _ = strconv.Atoi(m[1])
		h, _ = strconv.Atoi(m[2])
		if strings.HasPrefix(strings.TrimSpace(line), "Override") {
			break
		}
	}
	return w, h
}

func describeTarget(target string) string {
	if target == "" {
		return "no device attached"
	}
	return target + " not attached"
}

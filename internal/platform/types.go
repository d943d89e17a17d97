package platform

import (
	"fmt"
	"strings"
)

// Key is a hardware or navigation key.
type Key int

const (
	KeyBack Key = iota
	KeyHome
	KeyEnter
)

// ParseKey converts a string flag value to Key.
func ParseKey(s string) (Key, error) {
	switch strings.ToLower(s) {
	case "back":
		return KeyBack, nil
	case "home":
		return KeyHome, nil
	case "enter":
		return KeyEnter, nil
	default:
		return KeyBack, fmt.Errorf("unknown key: %q (expected back, home, or enter)", s)
	}
}

func (k Key) String() string {
	switch k {
	case KeyBack:
		return "back"
	case KeyHome:
		return "home"
	case KeyEnter:
		return "enter"
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// DeviceInfo describes the connected device.
type DeviceInfo struct {
	Serial string `yaml:"serial"  json:"serial"`
	Name   string `yaml:"name"    json:"name"`
	Width  int    `yaml:"width"   json:"width"`
	Height int    `yaml:"height"  json:"height"`
	SDK    int    `yaml:"sdk"     json:"sdk"`
}

// ScreenHeightOr returns the screen height, or def when it is unknown.
func (d DeviceInfo) ScreenHeightOr(def int) int {
	if d.Height > 0 {
		return d.Height
	}
	return def
}

// ScreenshotOptions configures what to capture.
type ScreenshotOptions struct {
	Format   string // "png" or "jpg"
	Quality  int    // JPEG quality 1-100 (ignored for PNG)
	MaxWidth int    // Downscale so the width is at most this; 0 keeps full size
}

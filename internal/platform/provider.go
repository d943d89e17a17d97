package platform

import (
	"errors"
	"time"
)

// Provider bundles all backends for one device.
type Provider struct {
	Connector     Connector
	Reader        Reader
	Inputter      Inputter
	AppManager    AppManager
	Screenshotter Screenshotter
	Notifications NotificationSource
}

// Options configures a backend.
type Options struct {
	ADBPath        string        // adb binary (default "adb")
	Target         string        // host:port for adb over TCP, or a serial; empty = first device
	CommandTimeout time.Duration // per-command bound
	IMEBroadcast   bool          // type non-ASCII text through the ADB keyboard broadcast
}

// ErrUnsupported is returned when no backend has been registered.
var ErrUnsupported = errors.New("no device backend registered; import internal/platform/adb")

// ErrNotConnected is returned when the device cannot be reached.
var ErrNotConnected = errors.New("device not connected")

// NewProviderFunc is set by backend packages via init().
// See internal/platform/adb/init.go for the ADB registration.
var NewProviderFunc func(opts Options) (*Provider, error)

// NewProvider returns a Provider from the registered backend.
func NewProvider(opts Options) (*Provider, error) {
	if NewProviderFunc == nil {
		return nil, ErrUnsupported
	}
	return NewProviderFunc(opts)
}

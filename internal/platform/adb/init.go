package adb

import (
	"github.com/mj1618/droid-order/internal/platform"
)

func init() {
	platform.NewProviderFunc = func(opts platform.Options) (*platform.Provider, error) {
		r := NewRunner(opts.ADBPath, opts.Target, opts.CommandTimeout)
		return &platform.Provider{
			Connector:     NewConnector(r),
			Reader:        NewReader(r),
			Inputter:      NewInputter(r, opts.IMEBroadcast),
			AppManager:    NewAppManager(r),
			Screenshotter: NewScreenshotter(r),
			Notifications: NewNotificationReader(r),
		}, nil
	}
}

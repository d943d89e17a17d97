package platform

import (
	"context"

	"github.com/mj1618/droid-order/internal/model"
)

// Connector establishes and verifies the link to the device.
type Connector interface {
	// Connect makes sure the device is reachable, reconnecting if needed.
	Connect(ctx context.Context) error

	// Info returns static facts about the connected device.
	Info(ctx context.Context) (DeviceInfo, error)
}

// Reader dumps the UI hierarchy of the current screen.
type Reader interface {
	// ReadElements returns every node of the hierarchy in traversal order,
	// with Index set to the traversal position.
	ReadElements(ctx context.Context) ([]model.Element, error)
}

// Inputter injects touch and key input.
type Inputter interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	Press(ctx context.Context, key Key) error
	// TypeText types into the focused field. Non-ASCII text is supported.
	TypeText(ctx context.Context, text string) error
	// ClearText deletes up to n characters from the focused field.
	ClearText(ctx context.Context, n int) error
}

// AppManager starts and stops applications.
type AppManager interface {
	LaunchApp(ctx context.Context, pkg string) error
	ForceStop(ctx context.Context, pkg string) error
}

// Screenshotter captures the screen.
type Screenshotter interface {
	// Capture returns an encoded image of the full screen.
	Capture(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
}

// NotificationSource reads the device notification store. It does not touch
// the UI and may run concurrently with UI automation.
type NotificationSource interface {
	Notifications(ctx context.Context) ([]model.Notification, error)
}

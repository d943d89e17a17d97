// Package fake provides an in-memory device for tests. Screens are element
// lists; taps, key presses, and launches move between screens through a
// transition table keyed by what was touched.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
)

// Device is a scripted stand-in for a phone.
type Device struct {
	mu sync.Mutex

	current []model.Element

	// Transitions maps an event to the screen shown after it. Events are the
	// label of a tapped element, "tap:x,y" when the tap hit no labelled
	// element, "launch:<pkg>", "key:<name>", and "type:<text>".
	Transitions map[string][]model.Element

	DeviceInfo  platform.DeviceInfo
	Image       []byte
	Notes       []model.Notification
	ConnectErr  error
	InfoErr     error
	ReadErr     error
	TapErr      error
	StopErr     error
	NotesErr    error
	ReadDelay   time.Duration
	OnForceStop func(pkg string)
	Taps        [][2]int
	Typed       []string
	Cleared     int
	Pressed     []platform.Key
	Launched    []string
	Stopped     []string
	Swipes      int
	Reads       int
	Captures    int
	NoteReads   int
}

// New returns a device showing screen.
func New(screen []model.Element) *Device {
	return &Device{
		current:     screen,
		Transitions: make(map[string][]model.Element),
		DeviceInfo:  platform.DeviceInfo{Serial: "fake", Name: "Fake", Width: 1080, Height: 2400, SDK: 33},
	}
}

// Provider exposes the device through every backend interface.
func (d *Device) Provider() *platform.Provider {
	return &platform.Provider{
		Connector:     d,
		Reader:        d,
		Inputter:      d,
		AppManager:    d,
		Screenshotter: d,
		Notifications: d,
	}
}

// Session wraps the device in a platform.Session.
func (d *Device) Session() *platform.Session {
	return platform.NewSession(d.Provider(), nil)
}

// SetScreen replaces the current screen.
func (d *Device) SetScreen(screen []model.Element) {
	d.mu.Lock()
	d.current = screen
	d.mu.Unlock()
}

// Screen returns the current screen.
func (d *Device) Screen() []model.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *Device) fire(event string) {
	if next, ok := d.Transitions[event]; ok {
		d.current = next
	}
}

func (d *Device) Connect(ctx context.Context) error { return d.ConnectErr }

func (d *Device) Info(ctx context.Context) (platform.DeviceInfo, error) {
	if d.ConnectErr != nil {
		return platform.DeviceInfo{}, d.ConnectErr
	}
	if d.InfoErr != nil {
		return platform.DeviceInfo{}, d.InfoErr
	}
	return d.DeviceInfo, nil
}

func (d *Device) ReadElements(ctx context.Context) ([]model.Element, error) {
	if d.ReadDelay > 0 {
		select {
		case <-time.After(d.ReadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Reads++
	if d.ReadErr != nil {
		return nil, d.ReadErr
	}
	out := make([]model.Element, len(d.current))
	for i, el := range d.current {
		el.Index = i
		if el.Role == "" {
			el.Role = model.MapRole(el.Class)
		}
		out[i] = el
	}
	return out, nil
}

func (d *Device) Tap(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TapErr != nil {
		return d.TapErr
	}
	d.Taps = append(d.Taps, [2]int{x, y})
	event := fmt.Sprintf("tap:%d,%d", x, y)
	for i := len(d.current) - 1; i >= 0; i-- {
		el := d.current[i]
		b := el.Bounds
		if x >= b[0] && x < b[2] && y >= b[1] && y < b[3] && el.Label() != "" {
			if _, ok := d.Transitions[el.Label()]; ok {
				event = el.Label()
				break
			}
		}
	}
	d.fire(event)
	return nil
}

func (d *Device) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	d.mu.Lock()
	d.Swipes++
	d.mu.Unlock()
	return ctx.Err()
}

func (d *Device) Press(ctx context.Context, key platform.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Pressed = append(d.Pressed, key)
	d.fire("key:" + key.String())
	return ctx.Err()
}

func (d *Device) TypeText(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Typed = append(d.Typed, text)
	d.fire("type:" + text)
	return ctx.Err()
}

func (d *Device) ClearText(ctx context.Context, n int) error {
	d.mu.Lock()
	d.Cleared++
	d.mu.Unlock()
	return ctx.Err()
}

func (d *Device) LaunchApp(ctx context.Context, pkg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Launched = append(d.Launched, pkg)
	d.fire("launch:" + pkg)
	return ctx.Err()
}

func (d *Device) ForceStop(ctx context.Context, pkg string) error {
	d.mu.Lock()
	d.Stopped = append(d.Stopped, pkg)
	hook := d.OnForceStop
	err := d.StopErr
	d.mu.Unlock()
	if hook != nil {
		hook(pkg)
	}
	return err
}

func (d *Device) Capture(ctx context.Context, opts platform.ScreenshotOptions) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Captures++
	if d.Image == nil {
		return nil, fmt.Errorf("no screenshot configured")
	}
	return d.Image, nil
}

func (d *Device) Notifications(ctx context.Context) ([]model.Notification, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.NoteReads++
	if d.NotesErr != nil {
		return nil, d.NotesErr
	}
	return append([]model.Notification(nil), d.Notes...), nil
}

// StopCount returns how many force-stops were issued.
func (d *Device) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Stopped)
}

// TapCount returns how many taps were issued.
func (d *Device) TapCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Taps)
}

// Text builds a labelled element with the given bounds.
func Text(text string, x1, y1, x2, y2 int) model.Element {
	return model.Element{Text: text, Class: "android.widget.TextView", Bounds: [4]int{x1, y1, x2, y2}}
}

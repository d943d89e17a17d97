package platform

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

// minClear is the number of deletes issued when clearing a field whose
// current text is shorter (hint text is not reported reliably).
const minClear = 32

// Session is the single handle through which automation talks to the
// device. It remembers the elements of the most recent read so callers can
// address them by traversal index; the indices are discarded on every new
// read and must never be reused across an action that changes the screen.
type Session struct {
	p     *Provider
	Stats *FailureStats

	mu   sync.Mutex
	last []model.Element
	info DeviceInfo
}

// NewSession wraps a provider. If stats is nil a fresh counter set is used.
func NewSession(p *Provider, stats *FailureStats) *Session {
	if stats == nil {
		stats = NewFailureStats()
	}
	return &Session{p: p, Stats: stats}
}

// Connect reports whether the device is reachable, reconnecting if needed.
func (s *Session) Connect(ctx context.Context) bool {
	if err := s.p.Connector.Connect(ctx); err != nil {
		ctxlog.FromContext(ctx).Warn("device connect failed", "error", err)
		return false
	}
	return true
}

// Info returns the device description, cached after the first success.
func (s *Session) Info(ctx context.Context) (DeviceInfo, error) {
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()
	if info.Serial != "" || info.Height > 0 {
		return info, nil
	}
	info, err := s.p.Connector.Info(ctx)
	if err != nil {
		return DeviceInfo{}, err
	}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return info, nil
}

// ReadElements dumps the hierarchy and makes it the index space for
// TapIndex and TypeText.
func (s *Session) ReadElements(ctx context.Context) ([]model.Element, error) {
	els, err := s.p.Reader.ReadElements(ctx)
	s.mu.Lock()
	if err != nil {
		s.last = nil
	} else {
		s.last = els
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read screen: %w", err)
	}
	return els, nil
}

// Peek dumps the hierarchy without touching the index space, for
// observers reading the screen while a flow may be driving it.
func (s *Session) Peek(ctx context.Context) ([]model.Element, error) {
	els, err := s.p.Reader.ReadElements(ctx)
	if err != nil {
		return nil, fmt.Errorf("read screen: %w", err)
	}
	return els, nil
}

func (s *Session) lookup(index int) (model.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return model.Element{}, fmt.Errorf("element %d: no screen has been read", index)
	}
	for _, el := range s.last {
		if el.Index == index {
			return el, nil
		}
	}
	return model.Element{}, fmt.Errorf("element %d not found in the last read (%d elements)", index, len(s.last))
}

// invalidate drops the index space after an action that may change the screen.
func (s *Session) invalidate() {
	s.mu.Lock()
	s.last = nil
	s.mu.Unlock()
}

// TapIndex taps the center of the element with the given index in the most
// recent read.
func (s *Session) TapIndex(ctx context.Context, index int) error {
	el, err := s.lookup(index)
	if err != nil {
		return err
	}
	return s.TapElement(ctx, el)
}

// TapElement taps the center of el.
func (s *Session) TapElement(ctx context.Context, el model.Element) error {
	x, y := el.Center()
	return s.TapPoint(ctx, x, y)
}

// TapPoint taps absolute device coordinates.
func (s *Session) TapPoint(ctx context.Context, x, y int) error {
	defer s.invalidate()
	if err := s.p.Inputter.Tap(ctx, x, y); err != nil {
		return fmt.Errorf("tap (%d,%d): %w", x, y, err)
	}
	return nil
}

// TypeText types text. When targetIndex is >= 0 the element is tapped first
// to focus it. When clear is set the field is emptied before typing.
func (s *Session) TypeText(ctx context.Context, text string, targetIndex int, clear bool) error {
	var target model.Element
	if targetIndex >= 0 {
		el, err := s.lookup(targetIndex)
		if err != nil {
			return err
		}
		target = el
		if err := s.TapElement(ctx, el); err != nil {
			return err
		}
	}
	defer s.invalidate()
	if clear {
		n := utf8.RuneCountInString(target.Text)
		if n < minClear {
			n = minClear
		}
		if err := s.p.Inputter.ClearText(ctx, n); err != nil {
			return fmt.Errorf("clear text: %w", err)
		}
	}
	if err := s.p.Inputter.TypeText(ctx, text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

// Swipe drags from one point to another over durationMs.
func (s *Session) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	defer s.invalidate()
	if err := s.p.Inputter.Swipe(ctx, x1, y1, x2, y2, durationMs); err != nil {
		return fmt.Errorf("swipe: %w", err)
	}
	return nil
}

// Press sends a navigation key.
func (s *Session) Press(ctx context.Context, key Key) error {
	defer s.invalidate()
	if err := s.p.Inputter.Press(ctx, key); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

// LaunchApp starts pkg.
func (s *Session) LaunchApp(ctx context.Context, pkg string) error {
	defer s.invalidate()
	if err := s.p.AppManager.LaunchApp(ctx, pkg); err != nil {
		return fmt.Errorf("launch %s: %w", pkg, err)
	}
	return nil
}

// ForceStop stops pkg. Failures are logged and counted, never returned:
// the stop only resynchronizes the device to a known state.
func (s *Session) ForceStop(ctx context.Context, pkg string) {
	defer s.invalidate()
	s.Stats.Record(ctx, "force_stop", s.p.AppManager.ForceStop(ctx, pkg))
}

// Screenshot captures the screen.
func (s *Session) Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error) {
	if s.p.Screenshotter == nil {
		return nil, ErrUnsupported
	}
	return s.p.Screenshotter.Capture(ctx, opts)
}

// Notifications reads the notification store.
func (s *Session) Notifications(ctx context.Context) ([]model.Notification, error) {
	if s.p.Notifications == nil {
		return nil, ErrUnsupported
	}
	return s.p.Notifications.Notifications(ctx)
}

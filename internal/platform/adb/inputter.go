package adb

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"github.com/mj1618/droid-order/internal/platform"
)

// Android key codes.
const (
	keycodeHome    = 3
	keycodeBack    = 4
	keycodeEnter   = 66
	keycodeDel     = 67
	keycodeMoveEnd = 123
)

// Inputter injects input with "adb shell input".
type Inputter struct {
	r            *Runner
	imeBroadcast bool
}

// NewInputter creates a new Inputter. When imeBroadcast is set, non-ASCII
// text is sent through the ADB keyboard broadcast, which requires the ADB
// keyboard IME to be active on the device.
func NewInputter(r *Runner, imeBroadcast bool) *Inputter {
	return &Inputter{r: r, imeBroadcast: imeBroadcast}
}

func (in *Inputter) Tap(ctx context.Context, x, y int) error {
	_, err := in.r.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

func (in *Inputter) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	_, err := in.r.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, durationMs))
	return err
}

func (in *Inputter) Press(ctx context.Context, key platform.Key) error {
	code, err := keycode(key)
	if err != nil {
		return err
	}
	_, err = in.r.Shell(ctx, fmt.Sprintf("input keyevent %d", code))
	return err
}

func keycode(key platform.Key) (int, error) {
	switch key {
	case platform.KeyBack:
		return keycodeBack, nil
	case platform.KeyHome:
		return keycodeHome, nil
	case platform.KeyEnter:
		return keycodeEnter, nil
	}
	return 0, fmt.Errorf("unsupported key %s", key)
}

func (in *Inputter) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if isASCII(text) {
		_, err := in.r.Shell(ctx, "input text "+shellQuote(escapeInputText(text)))
		return err
	}
	if !in.imeBroadcast {
		return fmt.Errorf("cannot type non-ASCII text %q without the ADB keyboard broadcast", text)
	}
	msg := base64.StdEncoding.EncodeToString([]byte(text))
	_, err := in.r.Shell(ctx, "am broadcast -a ADB_INPUT_B64 --es msg "+msg)
	return err
}

func (in *Inputter) ClearText(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "input keyevent %d && input keyevent", keycodeMoveEnd)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, " %d", keycodeDel)
	}
	_, err := in.r.Shell(ctx, b.String())
	return err
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// escapeInputText encodes spaces the way "input text" expects.
func escapeInputText(s string) string {
	return strings.ReplaceAll(s, " ", "%s")
}

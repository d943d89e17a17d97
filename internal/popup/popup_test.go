package popup

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/platform/fake"
)

type stubVision struct {
	replies []string
	calls   int
}

func (s *stubVision) CompleteWithImage(ctx context.Context, prompt string, img []byte) (string, error) {
	s.calls++
	if len(s.replies) == 0 {
		return `{"has_popup": false, "close_button": null}`, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func homeScreen() []model.Element {
	return []model.Element{
		fake.Text("首页", 0, 2200, 200, 2300),
		fake.Text("拼好饭", 400, 600, 600, 700),
	}
}

func closeIcon(x1, y1, x2, y2 int) model.Element {
	return model.Element{Class: "android.widget.ImageView", Clickable: true, Bounds: [4]int{x1, y1, x2, y2}}
}

func TestDismiss_NoPopupCostsOneRound(t *testing.T) {
	dev := fake.New(homeScreen())
	d := New(dev.Session(), nil, Options{})
	if d.Dismiss(context.Background(), 3) {
		t.Error("expected false on a clean screen")
	}
	if dev.TapCount() != 0 {
		t.Errorf("taps: got %d, want 0", dev.TapCount())
	}
	if dev.Reads != 1 {
		t.Errorf("reads: got %d, want 1", dev.Reads)
	}
}

func TestDismiss_LabelThenClean(t *testing.T) {
	popup := append(homeScreen(), fake.Text("我知道了", 400, 1600, 700, 1700))
	dev := fake.New(popup)
	dev.Transitions["我知道了"] = homeScreen()
	d := New(dev.Session(), nil, Options{})

	if !d.Dismiss(context.Background(), 3) {
		t.Fatal("expected popup to be dismissed")
	}
	if dev.TapCount() != 1 {
		t.Errorf("taps: got %d, want 1", dev.TapCount())
	}
	if dev.Reads != 2 {
		t.Errorf("reads: got %d, want 2 (dismiss round and clean round)", dev.Reads)
	}

	// Dismissal is idempotent: a second call on the clean screen taps nothing.
	if d.Dismiss(context.Background(), 3) {
		t.Error("second dismiss should find nothing")
	}
	if dev.TapCount() != 1 {
		t.Errorf("taps after second dismiss: got %d", dev.TapCount())
	}
}

func TestDismiss_StackedPopupsBoundedByAttempts(t *testing.T) {
	// The popup never goes away; rounds stop at maxAttempts.
	dev := fake.New(append(homeScreen(), fake.Text("关闭", 400, 1600, 700, 1700)))
	d := New(dev.Session(), nil, Options{})
	if !d.Dismiss(context.Background(), 2) {
		t.Fatal("expected true")
	}
	if dev.TapCount() != 2 {
		t.Errorf("taps: got %d, want 2", dev.TapCount())
	}
}

func TestDismiss_GeometricCloseIcon(t *testing.T) {
	dev := fake.New(append(homeScreen(), closeIcon(490, 1900, 590, 2000)))
	dev.Transitions["tap:540,1950"] = homeScreen()
	d := New(dev.Session(), nil, Options{})
	if !d.Dismiss(context.Background(), 3) {
		t.Fatal("expected close icon tap")
	}
	if got := dev.Taps[0]; got != [2]int{540, 1950} {
		t.Errorf("tap: got %v", got)
	}
}

func TestDismiss_CountsFailedTaps(t *testing.T) {
	tests := []struct {
		name    string
		screen  []model.Element
		infoErr error
		taps    int64
		infos   int64
	}{
		{"label", append(homeScreen(), fake.Text("我知道了", 400, 1600, 700, 1700)), nil, 1, 0},
		{"label and icon", append(homeScreen(), fake.Text("关闭", 400, 1600, 700, 1700), closeIcon(490, 1900, 590, 2000)), nil, 2, 0},
		{"icon without device info", append(homeScreen(), closeIcon(490, 1900, 590, 2000)), errors.New("getprop failed"), 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := fake.New(tt.screen)
			dev.TapErr = errors.New("input tap: device offline")
			dev.InfoErr = tt.infoErr
			stats := platform.NewFailureStats()
			d := New(dev.Session(), nil, Options{Stats: stats})

			if d.Dismiss(context.Background(), 3) {
				t.Error("no tap landed, dismiss should report false")
			}
			if n := stats.Count(OpTap); n != tt.taps {
				t.Errorf("%s failures: got %d, want %d", OpTap, n, tt.taps)
			}
			if n := stats.Count(OpInfo); n != tt.infos {
				t.Errorf("%s failures: got %d, want %d", OpInfo, n, tt.infos)
			}
		})
	}
}

func TestFindCloseIcon(t *testing.T) {
	tests := []struct {
		name string
		el   model.Element
		want bool
	}{
		{"lower half image", closeIcon(900, 1300, 1000, 1400), true},
		{"frame layout", model.Element{Class: "android.widget.FrameLayout", Clickable: true, Bounds: [4]int{0, 1300, 60, 1360}}, true},
		{"upper half", closeIcon(900, 1100, 1000, 1200), false},
		{"exactly half", closeIcon(900, 1200, 1000, 1300), false},
		{"too small", closeIcon(900, 1300, 940, 1340), false},
		{"too wide", closeIcon(0, 1300, 300, 1400), false},
		{"not clickable", model.Element{Class: "android.widget.ImageView", Bounds: [4]int{900, 1300, 1000, 1400}}, false},
		{"has desc", model.Element{Class: "android.widget.ImageView", ContentDesc: "购物车", Clickable: true, Bounds: [4]int{900, 1300, 1000, 1400}}, false},
		{"wrong class", model.Element{Class: "android.widget.Button", Clickable: true, Bounds: [4]int{900, 1300, 1000, 1400}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got := FindCloseIcon([]model.Element{tt.el}, 2400)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindLabel(t *testing.T) {
	els := []model.Element{
		fake.Text("暂不使用优惠", 0, 0, 10, 10),
		{ResourceID: "com.sankuai.meituan.takeoutnew:id/btn_close", Bounds: [4]int{0, 0, 10, 10}},
	}
	el, ok := FindLabel(els)
	if !ok || el.ResourceID == "" {
		t.Errorf("expected resource id match, got %+v %v", el, ok)
	}
	if _, ok := FindLabel([]model.Element{fake.Text(" 以后再说 ", 0, 0, 1, 1)}); !ok {
		t.Error("trimmed label should match")
	}
	if _, ok := FindLabel([]model.Element{fake.Text("取消订单", 0, 0, 1, 1)}); ok {
		t.Error("label match must be exact")
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDismiss_VisionScalesToDevicePixels(t *testing.T) {
	dev := fake.New(homeScreen())
	dev.Image = pngBytes(t, 540, 1200)
	dev.Transitions["tap:540,1200"] = homeScreen()
	vision := &stubVision{replies: []string{"```json\n{\"has_popup\": true, \"close_button\": {\"x\": 270, \"y\": 600}}\n```"}}

	d := New(dev.Session(), vision, Options{})
	if !d.Dismiss(context.Background(), 3) {
		t.Fatal("expected vision dismissal")
	}
	if got := dev.Taps[0]; got != [2]int{540, 1200} {
		t.Errorf("tap: got %v, want [540 1200]", got)
	}
	if vision.calls != 2 {
		t.Errorf("vision calls: got %d, want 2", vision.calls)
	}
}

func TestDismiss_VisionNoPopup(t *testing.T) {
	dev := fake.New(homeScreen())
	dev.Image = pngBytes(t, 540, 1200)
	d := New(dev.Session(), &stubVision{}, Options{})
	if d.Dismiss(context.Background(), 3) {
		t.Error("expected false")
	}
	if dev.TapCount() != 0 {
		t.Errorf("taps: got %d", dev.TapCount())
	}
}

func TestDismiss_CancelledContext(t *testing.T) {
	dev := fake.New(append(homeScreen(), fake.Text("关闭", 400, 1600, 700, 1700)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if New(dev.Session(), nil, Options{}).Dismiss(ctx, 3) {
		t.Error("cancelled dismiss should report false")
	}
}

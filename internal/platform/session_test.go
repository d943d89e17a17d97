package platform_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/platform/fake"
)

func TestNewProvider_Unregistered(t *testing.T) {
	orig := platform.NewProviderFunc
	platform.NewProviderFunc = nil
	defer func() { platform.NewProviderFunc = orig }()

	_, err := platform.NewProvider(platform.Options{})
	if !errors.Is(err, platform.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got: %v", err)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		input string
		want  platform.Key
	}{
		{"back", platform.KeyBack},
		{"HOME", platform.KeyHome},
		{"Enter", platform.KeyEnter},
	}
	for _, tt := range tests {
		got, err := platform.ParseKey(tt.input)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
	if _, err := platform.ParseKey("power"); err == nil {
		t.Error("ParseKey(power) should fail")
	}
}

func TestSession_TapIndexUsesLastRead(t *testing.T) {
	dev := fake.New([]model.Element{
		fake.Text("拼好饭", 100, 400, 300, 480),
		fake.Text("搜索", 900, 140, 1020, 200),
	})
	s := dev.Session()
	ctx := context.Background()

	if err := s.TapIndex(ctx, 1); err == nil {
		t.Fatal("expected error tapping before any read")
	}
	if _, err := s.ReadElements(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.TapIndex(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if len(dev.Taps) != 1 || dev.Taps[0] != [2]int{960, 170} {
		t.Errorf("taps: got %v, want [[960 170]]", dev.Taps)
	}
	// The tap may have changed the screen, so the index space is gone.
	if err := s.TapIndex(ctx, 0); err == nil || !strings.Contains(err.Error(), "no screen") {
		t.Errorf("expected stale index error, got %v", err)
	}
}

func TestSession_TypeTextClearsAndFocuses(t *testing.T) {
	dev := fake.New([]model.Element{
		{Class: "android.widget.EditText", Text: "搜索商家", Bounds: [4]int{100, 140, 880, 200}},
	})
	s := dev.Session()
	ctx := context.Background()
	if _, err := s.ReadElements(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.TypeText(ctx, "奶茶", 0, true); err != nil {
		t.Fatal(err)
	}
	if len(dev.Taps) != 1 {
		t.Errorf("expected focus tap, got %d taps", len(dev.Taps))
	}
	if dev.Cleared != 1 {
		t.Errorf("expected one clear, got %d", dev.Cleared)
	}
	if len(dev.Typed) != 1 || dev.Typed[0] != "奶茶" {
		t.Errorf("typed: got %v", dev.Typed)
	}
}

func TestSession_ForceStopCountsFailures(t *testing.T) {
	dev := fake.New(nil)
	dev.StopErr = errors.New("adb: device offline")
	s := dev.Session()
	s.ForceStop(context.Background(), "com.example")
	s.ForceStop(context.Background(), "com.example")
	if got := s.Stats.Count("force_stop"); got != 2 {
		t.Errorf("force_stop failures: got %d, want 2", got)
	}
	if snap := s.Stats.Snapshot(); snap["force_stop"] != 2 {
		t.Errorf("snapshot: got %v", snap)
	}
}

func TestSession_InfoCached(t *testing.T) {
	dev := fake.New(nil)
	s := dev.Session()
	info, err := s.Info(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Height != 2400 {
		t.Errorf("height: got %d, want 2400", info.Height)
	}
	dev.ConnectErr = errors.New("gone")
	if _, err := s.Info(context.Background()); err != nil {
		t.Errorf("cached info should not hit the device: %v", err)
	}
	if s.Connect(context.Background()) {
		t.Error("Connect should report false when the device is unreachable")
	}
}

func TestDeviceInfo_ScreenHeightOr(t *testing.T) {
	if got := (platform.DeviceInfo{}).ScreenHeightOr(2400); got != 2400 {
		t.Errorf("got %d, want 2400", got)
	}
	if got := (platform.DeviceInfo{Height: 1920}).ScreenHeightOr(2400); got != 1920 {
		t.Errorf("got %d, want 1920", got)
	}
}

func TestSession_PeekKeepsIndexSpace(t *testing.T) {
	dev := fake.New([]model.Element{fake.Text("搜索", 900, 140, 1020, 200)})
	s := dev.Session()
	ctx := context.Background()

	if _, err := s.ReadElements(ctx); err != nil {
		t.Fatal(err)
	}
	dev.SetScreen([]model.Element{fake.Text("历史搜索", 0, 300, 300, 360), fake.Text("搜索", 900, 140, 1020, 200)})
	els, err := s.Peek(ctx)
	if err != nil || len(els) != 2 {
		t.Fatalf("peek: %v, %d elements", err, len(els))
	}
	// Index 0 still refers to the element of the last ReadElements.
	if err := s.TapIndex(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if dev.Taps[0] != [2]int{960, 170} {
		t.Errorf("tap = %v", dev.Taps[0])
	}
}

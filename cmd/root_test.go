package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mj1618/droid-order/internal/config"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/output"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	expected := []string{
		"serve", "relay", "search", "order", "pay", "status", "task",
		"screen", "screenshot", "notifications", "devices", "tap", "type", "press", "stop",
	}
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range expected {
		if !found[name] {
			t.Errorf("expected subcommand %q not found", name)
		}
	}
}

func TestRootCommand_Version(t *testing.T) {
	if rootCmd.Version == "" {
		t.Error("root command version should be set")
	}
}

func TestServe_Flags(t *testing.T) {
	for _, name := range []string{"transport", "port", "no-relay", "no-watch"} {
		if serveCmd.Flags().Lookup(name) == nil {
			t.Errorf("serve is missing --%s", name)
		}
	}
	if got := serveCmd.Flags().Lookup("transport").DefValue; got != "http" {
		t.Errorf("default transport = %q, want http", got)
	}
}

func TestServe_RejectsUnknownTransport(t *testing.T) {
	if err := serveCmd.Flags().Set("transport", "sse"); err != nil {
		t.Fatal(err)
	}
	defer serveCmd.Flags().Set("transport", "http")
	if err := runServe(serveCmd, nil); err == nil {
		t.Fatal("expected an error for an unknown transport")
	}
}

func TestOrder_NeedsNameOrKeyword(t *testing.T) {
	if err := runOrder(orderCmd, nil); err == nil {
		t.Fatal("expected an error without a meal name or --keyword")
	}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	prevOut, prevFormat := output.Out, output.OutputFormat
	output.Out, output.OutputFormat = &buf, output.FormatJSON
	defer func() { output.Out, output.OutputFormat = prevOut, prevFormat }()

	tests := []struct {
		name    string
		res     model.Result
		wantErr error
	}{
		{"success", model.OK("找到1个结果", map[string]any{"keyword": "牛肉面"}), nil},
		{"failure", model.Fail("未找到支付按钮"), errTaskFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			err := printResult(tt.res)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			var got model.Result
			if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
				t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
			}
			if diff := cmp.Diff(tt.res.Message, got.Message); diff != "" {
				t.Errorf("message mismatch (-want +got):\n%s", diff)
			}
			if got.Success != tt.res.Success {
				t.Errorf("success = %v, want %v", got.Success, tt.res.Success)
			}
		})
	}
}

func TestNewApp_Wiring(t *testing.T) {
	cfg := config.Default()
	a, err := newApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	if a.llm != nil {
		t.Error("llm client should not be built without an API key")
	}
	if a.tracer != nil {
		t.Error("tracing should be off without debug.dir")
	}
	if n := len(a.server.Tools()); n != 7 {
		t.Errorf("registered %d tools, want 7", n)
	}

	cfg.LLM.APIKey = "sk-test"
	cfg.Debug.Dir = t.TempDir()
	b, err := newApp(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if b.llm == nil || b.tracer == nil {
		t.Error("llm and tracer should be wired when configured")
	}
}

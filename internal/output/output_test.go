package output

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/mj1618/droid-order/internal/model"
)

func sampleResult() model.Result {
	return model.OK("找到1个结果", map[string]any{
		"meals": []model.MealCandidate{{Rank: 0, Name: "珍珠奶茶", Price: "¥4.9"}},
	})
}

func TestPrintYAML(t *testing.T) {
	// Capture stdout
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	oldOut := Out
	Out = w

	err := PrintYAML(sampleResult())
	w.Close()
	os.Stdout = old
	Out = oldOut

	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	buf.ReadFrom(r)
	output := buf.String()

	if bytes.Count([]byte(output), []byte("\n")) <= 1 {
		t.Errorf("YAML output should be multi-line, got:\n%s", output)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded["success"] != true {
		t.Errorf("success: got %v", decoded["success"])
	}
}

func TestFprint_JSONCompactKeepsUnicode(t *testing.T) {
	var buf bytes.Buffer
	if err := Fprint(&buf, FormatJSON, sampleResult()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Count(out, "\n") > 1 {
		t.Errorf("compact output should be single line, got:\n%s", out)
	}
	if !strings.Contains(out, "珍珠奶茶") || !strings.Contains(out, "¥4.9") {
		t.Errorf("expected unescaped text, got %s", out)
	}
	var decoded model.Result
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}

func TestFprint_JSONPretty(t *testing.T) {
	PrettyOutput = true
	defer func() { PrettyOutput = false }()
	var buf bytes.Buffer
	if err := Fprint(&buf, FormatJSON, sampleResult()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Errorf("pretty output should be indented, got:\n%s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
	if err := Fprint(&bytes.Buffer{}, Format("xml"), 1); err == nil {
		t.Error("Fprint with unknown format should fail")
	}
}

package model

import (
	"encoding/json"
	"testing"
)

func TestElement_JSONKeys(t *testing.T) {
	el := Element{
		Index:  1,
		Role:   "btn",
		Text:   "马上抢",
		Bounds: [4]int{10, 20, 110, 60},
	}
	data, err := json.Marshal(el)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"i", "r", "t", "b"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in JSON output", key)
		}
	}
	for _, key := range []string{"index", "role", "text", "bounds"} {
		if _, ok := m[key]; ok {
			t.Errorf("unexpected verbose key %q in JSON output", key)
		}
	}
}

func TestElement_OmitEmpty(t *testing.T) {
	el := Element{Index: 1, Role: "img", Bounds: [4]int{0, 0, 10, 10}}
	data, err := json.Marshal(el)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"t", "d", "c", "id", "k", "f"} {
		if _, ok := m[key]; ok {
			t.Errorf("expected key %q to be omitted", key)
		}
	}
}

func TestElement_Geometry(t *testing.T) {
	el := Element{Bounds: [4]int{100, 200, 300, 260}}
	if got := el.Top(); got != 200 {
		t.Errorf("Top: got %d, want 200", got)
	}
	if got := el.Width(); got != 200 {
		t.Errorf("Width: got %d, want 200", got)
	}
	if got := el.Height(); got != 60 {
		t.Errorf("Height: got %d, want 60", got)
	}
	x, y := el.Center()
	if x != 200 || y != 230 {
		t.Errorf("Center: got (%d,%d), want (200,230)", x, y)
	}
}

func TestElement_Label(t *testing.T) {
	tests := []struct {
		name string
		el   Element
		want string
	}{
		{"text wins", Element{Text: "搜索", ContentDesc: "search"}, "搜索"},
		{"blank text falls back", Element{Text: "  ", ContentDesc: "关闭"}, "关闭"},
		{"nothing", Element{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.el.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

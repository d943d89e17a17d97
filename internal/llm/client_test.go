package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest, raw map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header: got %q", got)
		}
		var raw map[string]any
		var req chatRequest
		body := new(strings.Builder)
		if _, err := io.Copy(body, r.Body); err != nil {
			t.Error(err)
		}
		json.Unmarshal([]byte(body.String()), &raw)
		json.Unmarshal([]byte(body.String()), &req)
		handler(w, req, raw)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
}

func TestComplete(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		if req.Model != "gpt-test" {
			t.Errorf("model: got %q", req.Model)
		}
		if raw["temperature"] != 0.1 {
			t.Errorf("temperature: got %v", raw["temperature"])
		}
		reply(w, "  [1,2]  ")
	})
	c := New(Options{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-test"})
	defer c.Close()

	got, err := c.Complete(context.Background(), "hi", 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if got != "[1,2]" {
		t.Errorf("got %q, want %q", got, "[1,2]")
	}
}

func TestCompleteWithImage_SendsDataURL(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		if req.Model != "vl-test" {
			t.Errorf("model: got %q", req.Model)
		}
		msgs := raw["messages"].([]any)
		parts := msgs[0].(map[string]any)["content"].([]any)
		img := parts[0].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(img, "data:image/png;base64,") {
			t.Errorf("image url: got %q", img)
		}
		if _, ok := raw["temperature"]; ok {
			t.Error("vision request should not set temperature")
		}
		reply(w, `{"has_popup": false}`)
	})
	c := New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-test", VisionModel: "vl-test"})
	got, err := c.CompleteWithImage(context.Background(), "popup?", []byte("\x89PNG...."))
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"has_popup": false}` {
		t.Errorf("got %q", got)
	}
}

func TestComplete_HTTPError(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	c := New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m"})
	_, err := c.Complete(context.Background(), "hi", 0.1)
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if llmErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status: got %d", llmErr.StatusCode)
	}
	if !strings.Contains(llmErr.Error(), "rate limited") {
		t.Errorf("error should carry body: %v", llmErr)
	}
}

func TestComplete_HTTPErrorBodyKeepsRunes(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		http.Error(w, strings.Repeat("服务繁忙", 100), http.StatusServiceUnavailable)
	})
	c := New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m"})
	_, err := c.Complete(context.Background(), "hi", 0.1)
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !utf8.ValidString(llmErr.Body) {
		t.Errorf("body cut mid-rune: %q", llmErr.Body)
	}
	if n := utf8.RuneCountInString(llmErr.Body); n > 200 {
		t.Errorf("body has %d runes, want at most 200", n)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	})
	c := New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m"})
	if _, err := c.Complete(context.Background(), "hi", 0.1); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestComplete_NoAPIKey(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1", Model: "m"})
	if c.Enabled() {
		t.Error("client without key should not be enabled")
	}
	_, err := c.Complete(context.Background(), "hi", 0.1)
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, req chatRequest, raw map[string]any) {
		time.Sleep(300 * time.Millisecond)
		reply(w, "late")
	})
	c := New(Options{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m", Timeout: 50 * time.Millisecond})
	if _, err := c.Complete(context.Background(), "hi", 0.1); err == nil {
		t.Error("expected timeout error")
	}
}

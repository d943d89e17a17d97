// Package llm is a small client for OpenAI-compatible chat-completions
// endpoints, covering the text and vision calls the automation needs.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/mj1618/droid-order/internal/model"
)

// ErrNoAPIKey is returned when no API key is configured. Callers treat it
// like any other failure and fall back.
var ErrNoAPIKey = errors.New("no API key configured")

// Error describes a failed completion: transport, HTTP status, or a
// response without usable content.
type Error struct {
	Op         string // "complete" or "vision"
	StatusCode int    // 0 when the request never got a response
	Body       string // truncated response body, if any
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "llm %s", e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	VisionModel   string
	Timeout       time.Duration
	VisionTimeout time.Duration
}

// Client calls a chat-completions API.
type Client struct {
	rc            *resty.Client
	apiKey        string
	model         string
	visionModel   string
	timeout       time.Duration
	visionTimeout time.Duration
}

// New creates a Client. It never fails; a missing API key surfaces as
// ErrNoAPIKey on each call.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.VisionTimeout <= 0 {
		opts.VisionTimeout = 30 * time.Second
	}
	if opts.VisionModel == "" {
		opts.VisionModel = opts.Model
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		rc.SetAuthToken(opts.APIKey)
	}
	return &Client{
		rc:            rc,
		apiKey:        opts.APIKey,
		model:         opts.Model,
		visionModel:   opts.VisionModel,
		timeout:       opts.Timeout,
		visionTimeout: opts.VisionTimeout,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rc.Close()
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart for vision
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a single user prompt and returns the model's reply.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: &temperature,
	}
	return c.do(ctx, "complete", c.timeout, req)
}

// CompleteWithImage sends a prompt together with an image (PNG or JPEG
// bytes) to the vision model.
func (c *Client) CompleteWithImage(ctx context.Context, prompt string, image []byte) (string, error) {
	mime := "image/png"
	if len(image) > 2 && image[0] == 0xFF && image[1] == 0xD8 {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: c.visionModel,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				{Type: "text", Text: prompt},
			},
		}},
	}
	return c.do(ctx, "vision", c.visionTimeout, req)
}

func (c *Client) do(ctx context.Context, op string, timeout time.Duration, body chatRequest) (string, error) {
	if c.apiKey == "" {
		return "", &Error{Op: op, Err: ErrNoAPIKey}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&chatResponse{}).
		SetExpectResponseContentType("application/json").
		Post("/chat/completions")
	if err != nil {
		return "", &Error{Op: op, Err: err}
	}
	if resp.IsError() {
		return "", &Error{Op: op, StatusCode: resp.StatusCode(), Body: model.Truncate(resp.String(), 200)}
	}
	out, ok := resp.Result().(*chatResponse)
	if !ok || len(out.Choices) == 0 {
		return "", &Error{Op: op, StatusCode: resp.StatusCode(), Err: errors.New("response has no choices")}
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Op: op, StatusCode: resp.StatusCode(), Err: errors.New("empty completion")}
	}
	return content, nil
}

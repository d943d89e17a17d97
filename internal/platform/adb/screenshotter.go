package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/mj1618/droid-order/internal/platform"
)

// Screenshotter captures the screen with screencap.
type Screenshotter struct {
	r *Runner
}

// NewScreenshotter creates a new Screenshotter.
func NewScreenshotter(r *Runner) *Screenshotter {
	return &Screenshotter{r: r}
}

// Capture implements platform.Screenshotter.
func (s *Screenshotter) Capture(ctx context.Context, opts platform.ScreenshotOptions) ([]byte, error) {
	raw, err := s.r.RunRaw(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if opts.MaxWidth <= 0 && opts.Format != "jpg" {
		return raw, nil
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screencap: %w", err)
	}
	return Encode(Downscale(img, opts.MaxWidth), opts.Format, opts.Quality)
}

// Downscale resizes img so its width is at most maxWidth, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// Encode writes img as PNG or JPEG.
func Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpg", "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

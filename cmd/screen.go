package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/output"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/platform/adb"
	"github.com/mj1618/droid-order/internal/screen"
	"github.com/mj1618/droid-order/internal/trace"
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Print the text elements on the phone screen",
	Long: `Dump the UI hierarchy and print every element that carries text, with its
traversal index and bounds. The index is what tap --index takes.

Examples:
  droid-order screen
  droid-order screen --text 拼好饭
  droid-order screen --raw --format json`,
	Args: cobra.NoArgs,
	RunE: runScreen,
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Capture a screenshot",
	Long: `Capture the phone screen. With --annotate every text element is boxed
and labelled with its index, which is handy when debugging a flow.

Examples:
  droid-order screenshot --output screen.png
  droid-order screenshot --annotate --output annotated.png
  droid-order screenshot --image-format jpg --quality 60 --max-width 540`,
	Args: cobra.NoArgs,
	RunE: runScreenshot,
}

func init() {
	rootCmd.AddCommand(screenCmd, screenshotCmd)
	screenCmd.Flags().String("text", "", "Only elements whose text contains this (case-insensitive)")
	screenCmd.Flags().Bool("raw", false, "Include elements without text")
	screenCmd.Flags().Bool("summary", false, "Print one line per element instead of structured output")

	screenshotCmd.Flags().String("output", "", "Output file path (default: stdout as base64)")
	screenshotCmd.Flags().String("image-format", "png", "Image format: png, jpg")
	screenshotCmd.Flags().Int("quality", 80, "JPEG quality 1-100")
	screenshotCmd.Flags().Int("max-width", 0, "Downscale to at most this width (0 keeps full size)")
	screenshotCmd.Flags().Bool("annotate", false, "Draw element bounds and indices")
}

func runScreen(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	snap, err := screen.NewExtractor(a.session, a.session.Stats).Read(ctx)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	text, _ := cmd.Flags().GetString("text")
	elements := snap.Elements
	if raw {
		elements = snap.Raw
	}
	if text != "" {
		elements = model.FilterByText(elements, text, false)
	}
	if summary, _ := cmd.Flags().GetBool("summary"); summary {
		_, err := fmt.Fprint(output.Out, screen.Summarize(elements))
		return err
	}
	return output.Print(output.ScreenResult{
		Device:   snap.Device,
		TS:       time.Now().UnixMilli(),
		Elements: elements,
	})
}

func runScreenshot(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	path, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("image-format")
	quality, _ := cmd.Flags().GetInt("quality")
	maxWidth, _ := cmd.Flags().GetInt("max-width")
	annotate, _ := cmd.Flags().GetBool("annotate")

	opts := platform.ScreenshotOptions{Format: format, Quality: quality, MaxWidth: maxWidth}
	if annotate {
		// Annotate the full-size capture, then scale and encode once.
		opts = platform.ScreenshotOptions{Format: "png"}
	}
	data, err := a.session.Screenshot(ctx, opts)
	if err != nil {
		return err
	}
	if annotate {
		if data, err = annotateScreenshot(ctx, a, data, format, quality, maxWidth); err != nil {
			return err
		}
	}

	if path != "" {
		return os.WriteFile(path, data, 0644)
	}
	// Default: write to stdout as base64 for easy agent consumption
	encoder := base64.NewEncoder(base64.StdEncoding, os.Stdout)
	if _, err := encoder.Write(data); err != nil {
		return err
	}
	if err := encoder.Close(); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func annotateScreenshot(ctx context.Context, a *app, data []byte, format string, quality, maxWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	snap, err := screen.NewExtractor(a.session, a.session.Stats).Read(ctx)
	if err != nil {
		return nil, err
	}
	annotated := trace.Annotate(img, snap.Elements, snap.Device.Width, snap.Device.Height)
	return adb.Encode(adb.Downscale(annotated, maxWidth), format, quality)
}

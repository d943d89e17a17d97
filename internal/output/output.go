package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
)

// Format represents the output format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// OutputFormat is the current output format, set by the root command's --format flag.
var OutputFormat Format = FormatYAML

// PrettyOutput enables pretty-printing for JSON output.
var PrettyOutput bool

// Out is where Print writes. Stdout unless a test swaps it.
var Out io.Writer = os.Stdout

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatYAML, FormatJSON:
		return Format(s), nil
	}
	return FormatYAML, fmt.Errorf("unsupported output format: %q (expected yaml or json)", s)
}

// ScreenResult is the top-level output of the `screen` command.
type ScreenResult struct {
	Device   platform.DeviceInfo `yaml:"device"   json:"device"`
	TS       int64               `yaml:"ts"       json:"ts"`
	Elements []model.Element     `yaml:"elements" json:"elements"`
}

// NotificationsResult is the top-level output of the `notifications` command.
type NotificationsResult struct {
	TS            int64                `yaml:"ts"            json:"ts"`
	Notifications []model.Notification `yaml:"notifications" json:"notifications"`
}

// Print serializes v to Out in the current output format.
func Print(v interface{}) error {
	return Fprint(Out, OutputFormat, v)
}

// Fprint serializes v to w in the given format.
func Fprint(w io.Writer, format Format, v interface{}) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, v, PrettyOutput)
	case FormatYAML:
		return writeYAML(w, v)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// PrintJSON serializes v to Out as JSON.
// If pretty is true, uses indentation; otherwise single-line.
func PrintJSON(v interface{}, pretty bool) error {
	return writeJSON(Out, v, pretty)
}

// PrintYAML serializes v to Out as YAML.
func PrintYAML(v interface{}) error {
	return writeYAML(Out, v)
}

func writeJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}
	return enc.Close()
}

// IsOutputPiped reports whether stdout is something other than a terminal.
func IsOutputPiped() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

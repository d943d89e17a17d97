// Package screen turns a raw hierarchy dump into the text-bearing element
// list the parsers and flows work on.
package screen

import (
	"context"
	"fmt"
	"strings"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
)

// Snapshot is one read of the screen. Elements is Raw with blank-text
// nodes removed; both keep dump traversal order, which is not a spatial
// order.
type Snapshot struct {
	Summary  string
	Raw      []model.Element
	Elements []model.Element
	Device   platform.DeviceInfo
}

// Device is the subset of the device session the extractor needs.
type Device interface {
	ReadElements(ctx context.Context) ([]model.Element, error)
	Info(ctx context.Context) (platform.DeviceInfo, error)
}

// Extractor reads the screen through a device session.
type Extractor struct {
	dev   Device
	stats *platform.FailureStats
}

// OpInfo counts device-info failures during screen reads.
const OpInfo = "screen_device_info"

// NewExtractor creates a new Extractor. stats may be nil.
func NewExtractor(dev Device, stats *platform.FailureStats) *Extractor {
	if stats == nil {
		stats = platform.NewFailureStats()
	}
	return &Extractor{dev: dev, stats: stats}
}

// Read dumps the screen. Device info is best effort: a failure is counted,
// leaves it zero, and the caller falls back on defaults.
func (e *Extractor) Read(ctx context.Context) (Snapshot, error) {
	raw, err := e.dev.ReadElements(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	info, err := e.dev.Info(ctx)
	e.stats.Record(ctx, OpInfo, err)
	elements := Normalize(raw)
	return Snapshot{
		Summary:  Summarize(elements),
		Raw:      raw,
		Elements: elements,
		Device:   info,
	}, nil
}

// Normalize drops elements without visible text.
func Normalize(raw []model.Element) []model.Element {
	return model.Normalize(raw)
}

// Texts returns the text of each element, in order.
func Texts(elements []model.Element) []string {
	texts := make([]string, 0, len(elements))
	for _, el := range elements {
		texts = append(texts, el.Text)
	}
	return texts
}

// Summarize renders elements one per line for prompts and logs:
//
//	[12] btn "马上抢" @540,2260
func Summarize(elements []model.Element) string {
	var b strings.Builder
	for _, el := range elements {
		x, y := el.Center()
		label := el.Label()
		fmt.Fprintf(&b, "[%d] %s %q @%d,%d", el.Index, el.Role, label, x, y)
		if el.Clickable {
			b.WriteString(" *")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

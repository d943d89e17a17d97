package adb

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mj1618/droid-order/internal/model"
)

const dumpFile = "/data/local/tmp/window_dump.xml"

// dumpRetries bounds attempts at uiautomator dump, which fails transiently
// while the screen is animating.
const dumpRetries = 3

// uiNode is one <node> of a uiautomator dump.
type uiNode struct {
	Text        string   `xml:"text,attr"`
	ResourceID  string   `xml:"resource-id,attr"`
	Class       string   `xml:"class,attr"`
	ContentDesc string   `xml:"content-desc,attr"`
	Clickable   string   `xml:"clickable,attr"`
	Focused     string   `xml:"focused,attr"`
	Bounds      string   `xml:"bounds,attr"`
	Nodes       []uiNode `xml:"node"`
}

type uiHierarchy struct {
	XMLName xml.Name `xml:"hierarchy"`
	Nodes   []uiNode `xml:"node"`
}

var boundsRe = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)

// Reader dumps the UI hierarchy with uiautomator.
type Reader struct {
	r *Runner
}

// NewReader creates a new Reader.
func NewReader(r *Runner) *Reader {
	return &Reader{r: r}
}

// ReadElements implements platform.Reader.
func (rd *Reader) ReadElements(ctx context.Context) ([]model.Element, error) {
	var out string
	var err error
	for i := 0; i < dumpRetries; i++ {
		if i > 0 {
			// A stuck uiautomator instance blocks new dumps.
			rd.r.Shell(ctx, "pkill uiautomator")
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out, err = rd.r.Shell(ctx, fmt.Sprintf("uiautomator dump %s >/dev/null && cat %s", dumpFile, dumpFile))
		if err == nil && strings.Contains(out, "<hierarchy") {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dump hierarchy after %d attempts: %w", dumpRetries, err)
	}
	return ParseHierarchy(out)
}

// ParseHierarchy flattens a uiautomator dump into elements in depth-first
// pre-order. Index is the position in that order. Any noise adb prints
// around the XML document is ignored.
func ParseHierarchy(raw string) ([]model.Element, error) {
	start := strings.Index(raw, "<?xml")
	if start < 0 {
		start = strings.Index(raw, "<hierarchy")
	}
	if start < 0 {
		return nil, fmt.Errorf("no hierarchy in dump output (%d bytes)", len(raw))
	}
	raw = raw[start:]
	if end := strings.LastIndex(raw, ">"); end >= 0 {
		raw = raw[:end+1]
	}

	var root uiHierarchy
	if err := xml.Unmarshal([]byte(raw), &root); err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}

	var elements []model.Element
	var walk func(nodes []uiNode)
	walk = func(nodes []uiNode) {
		for _, n := range nodes {
			elements = append(elements, model.Element{
				Index:       len(elements),
				Role:        model.MapRole(n.Class),
				Text:        n.Text,
				ContentDesc: n.ContentDesc,
				Class:       n.Class,
				ResourceID:  n.ResourceID,
				Bounds:      parseBounds(n.Bounds),
				Clickable:   n.Clickable == "true",
				Focused:     n.Focused == "true",
			})
			walk(n.Nodes)
		}
	}
	walk(root.Nodes)
	return elements, nil
}

// parseBounds converts "[x1,y1][x2,y2]" to [x1, y1, x2, y2]. Malformed
// bounds yield a zero rectangle.
func parseBounds(s string) [4]int {
	var b [4]int
	m := boundsRe.FindStringSubmatch(s)
	if m == nil {
		return b
	}
	for i := 0; i < 4; i++ {
		b[i], _ = strconv.Atoi(m[i+1])
	}
	return b
}

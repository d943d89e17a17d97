// Package trace writes a per-request record of what the automation saw and
// did, one JSON file per step, for offline debugging of flows.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mj1618/droid-order/internal/model"
)

// sessionPrefix marks directories created by a Recorder.
const sessionPrefix = "session-"

// Step is the content of one step file.
type Step struct {
	Timestamp time.Time      `json:"timestamp"`
	Step      string         `json:"step"`
	Action    string         `json:"action,omitempty"`
	Count     int            `json:"elements_count"`
	Elements  []StepElement  `json:"elements"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// StepElement is the trimmed form of an element kept in a step file.
type StepElement struct {
	Index  int    `json:"index"`
	Text   string `json:"text"`
	Bounds [4]int `json:"bounds"`
	Class  string `json:"class,omitempty"`
}

// Recorder creates trace sessions under a root directory. A nil Recorder
// records nothing.
type Recorder struct {
	dir string
	now func() time.Time
}

// New returns a Recorder writing under dir, or nil when dir is empty.
func New(dir string) *Recorder {
	if dir == "" {
		return nil
	}
	return &Recorder{dir: dir, now: time.Now}
}

// Dir returns the root directory.
func (r *Recorder) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Start opens a new session directory for one request.
func (r *Recorder) Start(label string) (*Session, error) {
	if r == nil {
		return nil, nil
	}
	id := fmt.Sprintf("%s%s-%s-%s", sessionPrefix, r.now().Format("20060102_150405"), safeName(label), uuid.NewString()[:8])
	dir := filepath.Join(r.dir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace session: %w", err)
	}
	return &Session{dir: dir, now: r.now}, nil
}

// CleanOld removes session directories last modified before maxAge ago and
// returns how many it removed.
func (r *Recorder) CleanOld(maxAge time.Duration) int {
	if r == nil || maxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0
	}
	cutoff := r.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), sessionPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.RemoveAll(filepath.Join(r.dir, entry.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// Session is one request's trace directory. A nil Session records nothing.
type Session struct {
	dir string
	now func() time.Time

	mu sync.Mutex
	n  int
}

// Dir returns the session directory.
func (s *Session) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// Step writes the text-bearing elements of a read, numbered in call order.
// Write failures are returned but callers usually ignore them.
func (s *Session) Step(name, action string, elements []model.Element, extra map[string]any) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()

	step := Step{
		Timestamp: s.now(),
		Step:      name,
		Action:    action,
		Elements:  []StepElement{},
		Extra:     extra,
	}
	for _, el := range elements {
		if !el.HasText() {
			continue
		}
		step.Elements = append(step.Elements, StepElement{Index: el.Index, Text: el.Text, Bounds: el.Bounds, Class: el.Class})
	}
	step.Count = len(step.Elements)

	data, err := json.MarshalIndent(step, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace step: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%02d_%s.json", n, safeName(name)))
	return os.WriteFile(path, data, 0o644)
}

// LoadStep reads a step file back.
func LoadStep(path string) (Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Step{}, fmt.Errorf("load trace step: %w", err)
	}
	var step Step
	if err := json.Unmarshal(data, &step); err != nil {
		return Step{}, fmt.Errorf("unmarshal trace step: %w", err)
	}
	return step, nil
}

func safeName(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "step"
	}
	return s
}

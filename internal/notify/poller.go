// Package notify watches the device notification store for delivery
// updates and forwards matching notifications to webhooks. Polling uses
// dumpsys, never the UI, so it runs alongside automation without taking
// the coordinator's gate.
package notify

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

// Seen-key cache bounds: once more than maxSeen keys are held, only the
// newest maxSeen/2 are kept.
const (
	maxSeen   = 100
	maxRecent = 20
)

// Source reads posted notifications.
type Source interface {
	Notifications(ctx context.Context) ([]model.Notification, error)
}

// Sink receives matched notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n model.Notification) error
}

// Event is a matched notification.
type Event struct {
	Notification model.Notification `yaml:"notification" json:"notification"`
	Keyword      string             `yaml:"keyword"      json:"keyword"`
	SeenAt       time.Time          `yaml:"seen_at"      json:"seen_at"`
}

// Poller periodically reads notifications and forwards new ones whose
// title or text contains a keyword. Keywords and sinks can be replaced
// while it runs.
type Poller struct {
	src      Source
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	keywords []string
	sinks    []Sink
	seen     map[string]struct{}
	order    []string
	recent   []Event
}

// NewPoller creates a Poller.
func NewPoller(src Source, interval time.Duration, keywords []string) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		src:      src,
		interval: interval,
		now:      time.Now,
		keywords: slices.Clone(keywords),
		seen:     make(map[string]struct{}),
	}
}

// SetKeywords replaces the match keywords.
func (p *Poller) SetKeywords(keywords []string) {
	p.mu.Lock()
	p.keywords = slices.Clone(keywords)
	p.mu.Unlock()
}

// Keywords returns the current match keywords.
func (p *Poller) Keywords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.keywords)
}

// SetSinks replaces the sinks. Replaced sinks that hold resources are
// closed.
func (p *Poller) SetSinks(sinks ...Sink) {
	p.mu.Lock()
	old := p.sinks
	p.sinks = slices.Clone(sinks)
	p.mu.Unlock()
	for _, s := range old {
		if slices.Contains(sinks, s) {
			continue
		}
		if c, ok := s.(io.Closer); ok {
			c.Close()
		}
	}
}

// Recent returns the latest matched events, oldest first.
func (p *Poller) Recent() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.recent)
}

// Run polls until ctx is done. Read failures are logged and the loop
// carries on.
func (p *Poller) Run(ctx context.Context) error {
	log := ctxlog.FromContext(ctx)
	log.Info("notification poller started", "interval", p.interval, "keywords", p.Keywords())
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Warn("notification poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("notification poller stopped")
			return nil
		case <-t.C:
		}
	}
}

// Poll runs one pass and returns the newly matched events. Every sink is
// tried for every event; delivery errors are logged, not returned.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	notes, err := p.src.Notifications(ctx)
	if err != nil {
		return nil, err
	}
	events, sinks := p.match(notes)
	log := ctxlog.FromContext(ctx)
	for _, ev := range events {
		n := ev.Notification
		log.Info("delivery notification", "package", n.Package, "title", n.Title, "keyword", ev.Keyword)
		for _, s := range sinks {
			if err := s.Deliver(ctx, n); err != nil {
				log.Error("notification forward failed", "sink", s.Name(), "error", err)
				continue
			}
			log.Info("notification forwarded", "sink", s.Name())
		}
	}
	return events, nil
}

// match filters notes down to unseen keyword matches and records them.
func (p *Poller) match(notes []model.Notification) ([]Event, []Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []Event
	for _, n := range notes {
		key := n.DedupKey()
		if _, ok := p.seen[key]; ok {
			continue
		}
		kw, ok := matchKeyword(n, p.keywords)
		if !ok {
			continue
		}
		p.seen[key] = struct{}{}
		p.order = append(p.order, key)
		events = append(events, Event{Notification: n, Keyword: kw, SeenAt: p.now()})
	}
	p.trim()
	p.recent = append(p.recent, events...)
	if len(p.recent) > maxRecent {
		p.recent = slices.Clone(p.recent[len(p.recent)-maxRecent:])
	}
	return events, slices.Clone(p.sinks)
}

func (p *Poller) trim() {
	if len(p.order) <= maxSeen {
		return
	}
	drop := len(p.order) - maxSeen/2
	for _, k := range p.order[:drop] {
		delete(p.seen, k)
	}
	p.order = slices.Clone(p.order[drop:])
}

func matchKeyword(n model.Notification, keywords []string) (string, bool) {
	combined := n.Title + " " + n.Text
	for _, kw := range keywords {
		if kw != "" && strings.Contains(combined, kw) {
			return kw, true
		}
	}
	return "", false
}

// ErrNoSinks is returned by Test when nothing is configured to receive
// notifications.
var ErrNoSinks = errors.New("no notification sinks configured")

// Test sends n to every sink, returning the joined delivery errors.
func (p *Poller) Test(ctx context.Context, n model.Notification) error {
	p.mu.Lock()
	sinks := slices.Clone(p.sinks)
	p.mu.Unlock()
	if len(sinks) == 0 {
		return ErrNoSinks
	}
	var errs []error
	for _, s := range sinks {
		if err := s.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

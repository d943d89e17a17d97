// Package extract turns the text elements of a search results page into
// meal candidates. An LLM reads the page first; when it produces nothing a
// geometric heuristic groups text around price labels instead.
package extract

import (
	"context"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

// Completer is the text completion call tier 1 depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Tier identifies which strategy produced a result.
type Tier int

const (
	TierNone Tier = iota
	TierLLM
	TierGeometric
)

func (t Tier) String() string {
	switch t {
	case TierLLM:
		return "llm"
	case TierGeometric:
		return "geometric"
	}
	return "none"
}

// Options tunes both tiers. Zero fields take the defaults.
type Options struct {
	MaxResults        int     // k when the caller passes k <= 0
	VerticalThreshold int     // tier 1 ignores text whose top is at or above this y
	MaxTexts          int     // tier 1 prompt cap
	Temperature       float64 // tier 1 sampling temperature
	WindowAbove       int     // tier 2 window extends this far above an anchor
	WindowBelow       int     // and this far below it (exclusive)
}

// DefaultOptions returns the tuning used against a 1080x2400 screen.
func DefaultOptions() Options {
	return Options{
		MaxResults:        3,
		VerticalThreshold: 350,
		MaxTexts:          100,
		Temperature:       0.1,
		WindowAbove:       350,
		WindowBelow:       80,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxResults <= 0 {
		o.MaxResults = d.MaxResults
	}
	if o.VerticalThreshold <= 0 {
		o.VerticalThreshold = d.VerticalThreshold
	}
	if o.MaxTexts <= 0 {
		o.MaxTexts = d.MaxTexts
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.WindowAbove <= 0 {
		o.WindowAbove = d.WindowAbove
	}
	if o.WindowBelow <= 0 {
		o.WindowBelow = d.WindowBelow
	}
	return o
}

// Parser runs the two tiers.
type Parser struct {
	llm  Completer
	opts Options
}

// NewParser creates a Parser. llm may be nil, in which case only the
// geometric tier runs.
func NewParser(llm Completer, opts Options) *Parser {
	return &Parser{llm: llm, opts: opts.withDefaults()}
}

// Options returns the effective tuning.
func (p *Parser) Options() Options { return p.opts }

// Parse extracts at most k candidates from elements (dump order, blank text
// already removed). The geometric tier runs if and only if the LLM tier
// returns nothing, whatever the reason. Parse never fails; an empty result
// with TierNone means neither tier found anything.
func (p *Parser) Parse(ctx context.Context, elements []model.Element, k int) ([]model.MealCandidate, Tier) {
	if k <= 0 {
		k = p.opts.MaxResults
	}
	log := ctxlog.FromContext(ctx)

	meals, err := p.ParseLLM(ctx, elements, k)
	if err != nil {
		log.Warn("llm parse failed, using geometric fallback", "error", err)
	}
	if len(meals) > 0 {
		log.Info("meals extracted", "tier", TierLLM.String(), "count", len(meals))
		return meals, TierLLM
	}

	meals = Geometric(elements, k, p.opts)
	if len(meals) > 0 {
		log.Info("meals extracted", "tier", TierGeometric.String(), "count", len(meals))
		return meals, TierGeometric
	}
	log.Info("no meals found on screen")
	return []model.MealCandidate{}, TierNone
}

package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/extract"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/screen"
)

// Texts that tell the flow's screens apart.
const (
	categoryEntry   = "拼好饭"
	searchHistory   = "历史搜索"
	searchDiscovery = "搜索发现"
	searchLabel     = "搜索"
	searchInputText = "search-input"
)

var (
	homeSignal       = Signal{Texts: []string{categoryEntry}}
	leftHomeSignal   = Signal{Texts: []string{categoryEntry}, Exact: true, Gone: true}
	searchPageSignal = Signal{Texts: []string{searchHistory, searchDiscovery}}
	resultsSignal    = Signal{Texts: []string{searchHistory, searchDiscovery}, Gone: true}
	priceSignal      = Signal{Texts: []string{"¥", "￥"}}
)

// SearchResult is the outcome of a search.
type SearchResult struct {
	Keyword string
	Meals   []model.MealCandidate
	Tier    extract.Tier
}

// Search restarts the app, opens the category search, submits keyword and
// extracts up to k meals from the results page. An empty meal list is not
// an error.
func (a *Automator) Search(ctx context.Context, keyword string, k int) (SearchResult, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return SearchResult{}, fmt.Errorf("empty search keyword")
	}
	ctx = ctxlog.With(ctx, "flow", "search", "keyword", keyword)
	r := a.start(ctx, "search")

	if err := r.launch(ctx); err != nil {
		return SearchResult{}, err
	}

	if _, err := r.transition(ctx, Transition{
		To:     CategoryEntered,
		Signal: leftHomeSignal,
		Act: func(ctx context.Context, els []model.Element) error {
			return a.tapText(ctx, els, categoryEntry, false)
		},
	}); err != nil {
		return SearchResult{}, err
	}

	if _, err := r.transition(ctx, Transition{
		To:     SearchPageOpen,
		Signal: searchPageSignal,
		Act:    a.tapSearchBox,
	}); err != nil {
		return SearchResult{}, err
	}

	if _, err := r.transition(ctx, Transition{
		To:     KeywordEntered,
		Signal: Signal{Texts: []string{keyword}},
		Act: func(ctx context.Context, els []model.Element) error {
			input, ok := model.FindByClass(els, "EditText")
			if !ok {
				return ErrNoSearchInput
			}
			return a.dev.TypeText(ctx, keyword, input.Index, true)
		},
	}); err != nil {
		return SearchResult{}, err
	}

	if _, err := r.transition(ctx, Transition{
		To:      ResultsLoaded,
		Signal:  resultsSignal,
		Timeout: a.opts.ResultsTimeout,
		Act:     a.submitSearch,
	}); err != nil {
		return SearchResult{}, err
	}

	// Listing cards render after the page swaps; a page with no price at
	// all is a legitimate empty result.
	if _, _, err := a.waitFor(ctx, priceSignal, a.opts.ResultsTimeout); err != nil {
		return SearchResult{}, r.fail(ctx, err)
	}
	if err := a.settle(ctx); err != nil {
		return SearchResult{}, r.fail(ctx, err)
	}

	raw, err := r.read(ctx, "search_results")
	if err != nil {
		return SearchResult{}, r.fail(ctx, err)
	}
	meals, tier := a.parser.Parse(ctx, screen.Normalize(raw), k)
	if ctx.Err() != nil {
		return SearchResult{}, r.fail(ctx, ctx.Err())
	}
	_ = r.trace.Step("parsed", tier.String(), nil, map[string]any{"meals": meals})
	return SearchResult{Keyword: keyword, Meals: meals, Tier: tier}, nil
}

// launch force-stops and starts the app, then waits for the home screen.
func (r *run) launch(ctx context.Context) error {
	a := r.a
	a.dev.ForceStop(ctx, a.opts.Package)
	if err := a.dev.LaunchApp(ctx, a.opts.Package); err != nil {
		return r.fail(ctx, err)
	}
	r.enter(ctx, AppLaunching)
	_, err := r.transition(ctx, Transition{To: Home, Signal: homeSignal})
	return err
}

// tapSearchBox taps the category page's search entry.
func (a *Automator) tapSearchBox(ctx context.Context, els []model.Element) error {
	if el, ok := model.FindByText(els, searchInputText, true); ok {
		return a.dev.TapElement(ctx, el)
	}
	if el, ok := model.FindByText(els, searchLabel, true); ok {
		return a.dev.TapElement(ctx, el)
	}
	return a.tapText(ctx, els, searchLabel, false)
}

// submitSearch taps the search button, or its known position, or presses
// enter.
func (a *Automator) submitSearch(ctx context.Context, els []model.Element) error {
	if el, ok := model.FindByText(els, searchLabel, true); ok {
		return a.dev.TapElement(ctx, el)
	}
	if p := a.opts.SearchButton; p != [2]int{} {
		return a.dev.TapPoint(ctx, p[0], p[1])
	}
	return a.dev.Press(ctx, platform.KeyEnter)
}

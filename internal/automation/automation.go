// Package automation drives the delivery app through its screens. Every
// flow is a chain of transitions; each transition acts on the screen and
// then waits, bounded, for a text signal that tells the next screen apart.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/extract"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/popup"
	"github.com/mj1618/droid-order/internal/trace"
)

// State is a position in the ordering flow.
type State int

const (
	Idle State = iota
	AppLaunching
	Home
	CategoryEntered
	SearchPageOpen
	KeywordEntered
	ResultsLoaded
	DetailOpen
	SpecConfirm
	PaymentPage
	OrdersTab
	Cancelled
	Failed
)

var stateNames = [...]string{
	Idle:            "idle",
	AppLaunching:    "app_launching",
	Home:            "home",
	CategoryEntered: "category_entered",
	SearchPageOpen:  "search_page_open",
	KeywordEntered:  "keyword_entered",
	ResultsLoaded:   "results_loaded",
	DetailOpen:      "detail_open",
	SpecConfirm:     "spec_confirm",
	PaymentPage:     "payment_page",
	OrdersTab:       "orders_tab",
	Cancelled:       "cancelled",
	Failed:          "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// TransitionError reports a transition whose signal never showed up, even
// after popups were dismissed and the wait retried.
type TransitionError struct {
	From   State
	To     State
	Signal Signal
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s: timed out waiting for %s", e.From, e.To, e.Signal)
}

// Sentinel errors for preconditions the screen did not meet.
var (
	ErrMealNotFound   = errors.New("meal not found on screen")
	ErrNoPayButton    = errors.New("no payment button on screen")
	ErrNoSearchInput  = errors.New("no search input on screen")
	ErrNoLLM          = errors.New("no llm configured")
	ErrStepsExhausted = errors.New("step limit reached")
)

// Signal is the text evidence that a screen is showing. It is met when any
// of Texts is present (or, with Gone, when none is).
type Signal struct {
	Texts []string
	Exact bool
	Gone  bool
}

func (s Signal) String() string {
	desc := fmt.Sprintf("%q", s.Texts)
	if s.Exact {
		desc += " (exact)"
	}
	if s.Gone {
		desc += " (gone)"
	}
	return desc
}

// Met reports whether the signal holds on elements.
func (s Signal) Met(elements []model.Element) bool {
	found := false
	for _, t := range s.Texts {
		if model.HasText(elements, t, s.Exact) {
			found = true
			break
		}
	}
	return found != s.Gone
}

// Device is the device session surface the flows use.
type Device interface {
	popup.Device
	TypeText(ctx context.Context, text string, targetIndex int, clear bool) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	Press(ctx context.Context, key platform.Key) error
	LaunchApp(ctx context.Context, pkg string) error
	ForceStop(ctx context.Context, pkg string)
}

// Dismisser closes popups.
type Dismisser interface {
	Dismiss(ctx context.Context, maxAttempts int) bool
}

// Options tunes timing and targets.
type Options struct {
	Package         string
	WaitTimeout     time.Duration
	PollInterval    time.Duration
	Settle          time.Duration
	PaymentTimeout  time.Duration
	ResultsTimeout  time.Duration
	PopupAttempts   int
	FreeFormSteps   int
	FreeFormTimeout time.Duration
	// SearchButton is tapped when the results page has no "搜索" label.
	// Zero falls back to the enter key.
	SearchButton [2]int
}

// DefaultOptions returns timings tuned for a mid-range phone.
func DefaultOptions() Options {
	return Options{
		Package:         "com.sankuai.meituan.takeoutnew",
		WaitTimeout:     3 * time.Second,
		PollInterval:    300 * time.Millisecond,
		Settle:          time.Second,
		PaymentTimeout:  5 * time.Second,
		ResultsTimeout:  5 * time.Second,
		PopupAttempts:   3,
		FreeFormSteps:   20,
		FreeFormTimeout: 300 * time.Second,
		SearchButton:    [2]int{960, 172},
	}
}

// Deps are the collaborators of an Automator. Popups, LLM and Tracer are
// optional.
type Deps struct {
	Device Device
	Popups Dismisser
	Parser *extract.Parser
	LLM    extract.Completer
	Tracer *trace.Recorder
}

// Automator runs the flows. It holds no per-request state; the caller
// serializes requests.
type Automator struct {
	dev    Device
	popups Dismisser
	parser *extract.Parser
	llm    extract.Completer
	tracer *trace.Recorder
	opts   Options
}

// New creates an Automator.
func New(deps Deps, opts Options) *Automator {
	if deps.Parser == nil {
		deps.Parser = extract.NewParser(deps.LLM, extract.Options{})
	}
	// Zero values fall back on the defaults; a zero step budget or timeout
	// would end every run before it starts.
	def := DefaultOptions()
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = def.WaitTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = def.PaymentTimeout
	}
	if opts.ResultsTimeout <= 0 {
		opts.ResultsTimeout = def.ResultsTimeout
	}
	if opts.PopupAttempts <= 0 {
		opts.PopupAttempts = def.PopupAttempts
	}
	if opts.FreeFormSteps <= 0 {
		opts.FreeFormSteps = def.FreeFormSteps
	}
	if opts.FreeFormTimeout <= 0 {
		opts.FreeFormTimeout = def.FreeFormTimeout
	}
	if opts.Package == "" {
		opts.Package = def.Package
	}
	return &Automator{
		dev:    deps.Device,
		popups: deps.Popups,
		parser: deps.Parser,
		llm:    deps.LLM,
		tracer: deps.Tracer,
		opts:   opts,
	}
}

// Options returns the effective options.
func (a *Automator) Options() Options { return a.opts }

// run carries the state of one flow execution.
type run struct {
	a     *Automator
	state State
	trace *trace.Session
}

func (a *Automator) start(ctx context.Context, flow string) *run {
	ts, err := a.tracer.Start(flow)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("trace disabled for this request", "error", err)
	}
	return &run{a: a, state: Idle, trace: ts}
}

func (r *run) enter(ctx context.Context, s State) {
	ctxlog.FromContext(ctx).Debug("state", "from", r.state.String(), "to", s.String())
	r.state = s
}

// fail marks the run terminal. Cancellation is reported as such so the
// coordinator can tell it from a screen failure.
func (r *run) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		r.enter(ctx, Cancelled)
		return ctx.Err()
	}
	r.enter(ctx, Failed)
	return err
}

// read dumps the screen and records it in the trace.
func (r *run) read(ctx context.Context, step string) ([]model.Element, error) {
	els, err := r.a.dev.ReadElements(ctx)
	if err != nil {
		return nil, err
	}
	_ = r.trace.Step(step, r.state.String(), els, nil)
	return els, nil
}

// Transition describes one edge of the flow. Act runs against the current
// screen before the wait. On retry it runs again after popups are
// dismissed, unless the signal already holds or Retry rejects the fresh
// screen.
type Transition struct {
	To      State
	Signal  Signal
	Timeout time.Duration
	Act     func(ctx context.Context, elements []model.Element) error
	// Retry reports whether Act may run a second time against elements.
	// Nil always allows it. Acts that must not repeat once they took
	// effect, such as opening a meal, check they are still on their
	// starting screen.
	Retry func(elements []model.Element) bool
}

// transition performs t from the current state. On timeout it dismisses
// popups once and retries the wait exactly once, re-running the act only
// where the fresh screen allows it.
func (r *run) transition(ctx context.Context, t Transition) ([]model.Element, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.a.opts.WaitTimeout
	}
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			ctxlog.FromContext(ctx).Info("signal not seen, dismissing popups and retrying",
				"from", r.state.String(), "to", t.To.String(), "signal", t.Signal.String())
			if r.a.popups != nil {
				r.a.popups.Dismiss(ctx, r.a.opts.PopupAttempts)
			}
		}
		if t.Act != nil {
			els, err := r.a.dev.ReadElements(ctx)
			if err != nil {
				return nil, r.fail(ctx, err)
			}
			if attempt > 0 && (t.Signal.Met(els) || (t.Retry != nil && !t.Retry(els))) {
				ctxlog.FromContext(ctx).Info("not repeating act", "to", t.To.String())
			} else if err := t.Act(ctx, els); err != nil && !errors.Is(err, errSkip) {
				return nil, r.fail(ctx, err)
			}
		}
		els, ok, err := r.a.waitFor(ctx, t.Signal, timeout)
		if err != nil {
			return nil, r.fail(ctx, err)
		}
		if ok {
			r.enter(ctx, t.To)
			_ = r.trace.Step(t.To.String(), "", els, nil)
			return els, nil
		}
	}
	return nil, r.fail(ctx, &TransitionError{From: r.state, To: t.To, Signal: t.Signal})
}

// errSkip lets an act report that it had nothing to do; the wait still runs.
var errSkip = errors.New("nothing to act on")

// waitFor polls the screen until sig holds or timeout passes. It only
// returns an error when ctx is done; read failures count as "not yet".
func (a *Automator) waitFor(ctx context.Context, sig Signal, timeout time.Duration) ([]model.Element, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		els, err := a.dev.ReadElements(ctx)
		if err == nil && sig.Met(els) {
			return els, true, nil
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if err != nil {
			ctxlog.FromContext(ctx).Debug("read during wait failed", "error", err)
		}
		if !time.Now().Before(deadline) {
			return els, false, nil
		}
		if err := sleepCtx(ctx, a.opts.PollInterval); err != nil {
			return nil, false, err
		}
	}
}

// tapText taps the first element containing text (exact when asked).
func (a *Automator) tapText(ctx context.Context, elements []model.Element, text string, exact bool) error {
	el, ok := model.FindByText(elements, text, exact)
	if !ok {
		return errSkip
	}
	return a.dev.TapElement(ctx, el)
}

func (a *Automator) settle(ctx context.Context) error {
	return sleepCtx(ctx, a.opts.Settle)
}

// sleepCtx pauses for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

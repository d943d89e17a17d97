package automation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

const (
	buyNow        = "马上抢"
	buyNowAlt     = "立即抢"
	payButton     = "极速支付"
	payKeyword    = "支付"
	passwordless  = "免密支付"
	currencyGlyph = "¥"
)

var (
	detailSignal  = Signal{Texts: []string{buyNow, buyNowAlt}}
	paymentSignal = Signal{Texts: []string{payButton}, Exact: true}
)

// priceFragmentRe matches the pieces a price is split into on the payment
// page ("¥", "16", ".", "7", ".7") as well as an unsplit "¥16.7".
var priceFragmentRe = regexp.MustCompile(`^[¥￥]?\d*\.?\d*$`)

// OrderResult is the outcome of placing an order up to the payment page.
type OrderResult struct {
	MealName string
	Price    string
}

// PlaceOrder opens the meal whose name contains mealName on the current
// results page, confirms the purchase twice (detail, then spec sheet) and
// stops on the payment page without paying.
func (a *Automator) PlaceOrder(ctx context.Context, mealName string) (OrderResult, error) {
	mealName = strings.TrimSpace(mealName)
	if mealName == "" {
		return OrderResult{}, fmt.Errorf("empty meal name")
	}
	ctx = ctxlog.With(ctx, "flow", "place_order", "meal", mealName)
	r := a.start(ctx, "place_order")
	r.state = ResultsLoaded

	if _, err := r.transition(ctx, Transition{
		To:     DetailOpen,
		Signal: detailSignal,
		Act: func(ctx context.Context, els []model.Element) error {
			el, ok := model.FindByText(els, mealName, false)
			if !ok {
				return fmt.Errorf("%w: %q", ErrMealNotFound, mealName)
			}
			return a.dev.TapElement(ctx, el)
		},
		// A second tap is only safe while the listing is still showing;
		// a half-loaded detail page must not be tapped again.
		Retry: func(els []model.Element) bool {
			_, ok := model.FindByText(els, mealName, false)
			return ok && priceSignal.Met(els)
		},
	}); err != nil {
		return OrderResult{}, err
	}

	if err := a.tapBuy(ctx); err != nil {
		return OrderResult{}, r.fail(ctx, err)
	}
	if err := a.settle(ctx); err != nil {
		return OrderResult{}, r.fail(ctx, err)
	}

	// The spec sheet asks for a second confirmation; some meals skip it.
	els, err := r.read(ctx, "after_buy")
	if err != nil {
		return OrderResult{}, r.fail(ctx, err)
	}
	if !paymentSignal.Met(els) {
		r.enter(ctx, SpecConfirm)
	}

	els, err = r.transition(ctx, Transition{
		To:      PaymentPage,
		Signal:  paymentSignal,
		Timeout: a.opts.PaymentTimeout,
		Act: func(ctx context.Context, els []model.Element) error {
			if paymentSignal.Met(els) {
				return errSkip
			}
			return a.tapBuyOn(ctx, els)
		},
	})
	if err != nil {
		return OrderResult{}, err
	}

	price := PaymentPrice(els)
	ctxlog.FromContext(ctx).Info("reached payment page", "price", price)
	return OrderResult{MealName: mealName, Price: price}, nil
}

func (a *Automator) tapBuy(ctx context.Context) error {
	els, err := a.dev.ReadElements(ctx)
	if err != nil {
		return err
	}
	return ignoreSkip(a.tapBuyOn(ctx, els))
}

// tapBuyOn taps the last buy button in dump order; bottom bars come after
// any inline promotions that repeat the word.
func (a *Automator) tapBuyOn(ctx context.Context, els []model.Element) error {
	for _, label := range []string{buyNow, buyNowAlt} {
		if el, ok := model.FindLastByText(els, label, false); ok {
			return a.dev.TapElement(ctx, el)
		}
	}
	return errSkip
}

// PaymentPrice assembles the final price from the fragments between the
// last lone "¥" and the pay button, in dump order. If the page shows no
// lone glyph it falls back to the last currency string before the button.
func PaymentPrice(elements []model.Element) string {
	pay := -1
	for i, el := range elements {
		if strings.TrimSpace(el.Text) == payButton {
			pay = i
			break
		}
	}
	if pay < 0 {
		return ""
	}

	yuan := -1
	for i := 0; i < pay; i++ {
		t := strings.TrimSpace(elements[i].Text)
		if t == currencyGlyph || t == "￥" {
			yuan = i
		}
	}
	if yuan < 0 {
		for i := pay - 1; i >= 0; i-- {
			t := strings.TrimSpace(elements[i].Text)
			if strings.HasPrefix(t, currencyGlyph) || strings.HasPrefix(t, "￥") {
				return t
			}
		}
		return ""
	}

	var b strings.Builder
	for i := yuan; i < pay; i++ {
		t := strings.TrimSpace(elements[i].Text)
		if t != "" && priceFragmentRe.MatchString(t) {
			b.WriteString(t)
		}
	}
	return b.String()
}

// PaymentResult is the outcome of confirming payment.
type PaymentResult struct {
	Button       string
	Passwordless bool
}

// ConfirmPayment taps the last element mentioning payment, then the
// passwordless confirmation if the wallet asks for it, and finally stops
// the app so delivery notifications surface in the notification shade.
func (a *Automator) ConfirmPayment(ctx context.Context) (PaymentResult, error) {
	ctx = ctxlog.With(ctx, "flow", "confirm_payment")
	r := a.start(ctx, "confirm_payment")
	r.state = PaymentPage

	els, err := r.read(ctx, "payment_page")
	if err != nil {
		return PaymentResult{}, r.fail(ctx, err)
	}
	btn, ok := model.FindLastByText(els, payKeyword, false)
	if !ok {
		return PaymentResult{}, r.fail(ctx, ErrNoPayButton)
	}
	if err := a.dev.TapElement(ctx, btn); err != nil {
		return PaymentResult{}, r.fail(ctx, err)
	}
	res := PaymentResult{Button: btn.Label()}

	els, ok, err = a.waitFor(ctx, Signal{Texts: []string{passwordless}, Exact: true}, 2*a.opts.Settle)
	if err != nil {
		return PaymentResult{}, r.fail(ctx, err)
	}
	if ok {
		if err := ignoreSkip(a.tapText(ctx, els, passwordless, true)); err != nil {
			return PaymentResult{}, r.fail(ctx, err)
		}
		res.Passwordless = true
	}
	if err := sleepCtx(ctx, 2*a.opts.Settle); err != nil {
		return PaymentResult{}, r.fail(ctx, err)
	}

	a.dev.ForceStop(ctx, a.opts.Package)
	r.enter(ctx, Idle)
	ctxlog.FromContext(ctx).Info("payment confirmed", "button", res.Button, "passwordless", res.Passwordless)
	return res, nil
}

func ignoreSkip(err error) error {
	if err == errSkip {
		return nil
	}
	return err
}

package automation

import (
	"context"
	"regexp"
	"strings"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

const (
	ordersTab     = "订单"
	statusUnknown = "未知"
)

// statusKeywords map page wording to the reported status, checked in
// order; the first keyword present wins.
var statusKeywords = []struct{ keyword, status string }{
	{"待支付", "待支付"},
	{"商家接单", "商家接单中"},
	{"骑手已取餐", "骑手已取餐"},
	{"配送中", "配送中"},
	{"已送达", "已送达"},
	{"已完成", "已完成"},
}

var (
	arrivalRe  = regexp.MustCompile(`(\d{1,2}:\d{2})\s*送达`)
	progressRe = []*regexp.Regexp{
		regexp.MustCompile(`骑手.*?取餐`),
		regexp.MustCompile(`正在.*?配送`),
		regexp.MustCompile(`预计.*?送达`),
	}
)

// OrderStatus opens the orders tab and reads the latest order's status.
// A page without any known wording yields status "未知", not an error.
func (a *Automator) OrderStatus(ctx context.Context) (model.OrderStatus, error) {
	ctx = ctxlog.With(ctx, "flow", "order_status")
	r := a.start(ctx, "order_status")

	if err := r.launch(ctx); err != nil {
		return model.OrderStatus{}, err
	}
	if a.popups != nil {
		a.popups.Dismiss(ctx, a.opts.PopupAttempts)
	}

	var keywords []string
	for _, k := range statusKeywords {
		keywords = append(keywords, k.keyword)
	}
	els, err := a.dev.ReadElements(ctx)
	if err != nil {
		return model.OrderStatus{}, r.fail(ctx, err)
	}
	if err := ignoreSkip(a.tapOrdersTab(ctx, els)); err != nil {
		return model.OrderStatus{}, r.fail(ctx, err)
	}
	if _, ok, err := a.waitFor(ctx, Signal{Texts: keywords}, a.opts.WaitTimeout); err != nil {
		return model.OrderStatus{}, r.fail(ctx, err)
	} else if ok {
		r.enter(ctx, OrdersTab)
	}
	if a.popups != nil {
		a.popups.Dismiss(ctx, a.opts.PopupAttempts)
	}

	els, err = r.read(ctx, "orders_tab")
	if err != nil {
		return model.OrderStatus{}, r.fail(ctx, err)
	}
	st := ParseOrderStatus(els)
	ctxlog.FromContext(ctx).Info("order status read", "status", st.Status)
	return st, nil
}

// tapOrdersTab taps the orders tab by exact text, then description, then
// any text containing the word.
func (a *Automator) tapOrdersTab(ctx context.Context, els []model.Element) error {
	for _, el := range els {
		if strings.TrimSpace(el.Text) == ordersTab {
			return a.dev.TapElement(ctx, el)
		}
	}
	for _, el := range els {
		if strings.TrimSpace(el.ContentDesc) == ordersTab {
			return a.dev.TapElement(ctx, el)
		}
	}
	return a.tapText(ctx, els, ordersTab, false)
}

// ParseOrderStatus reads status, progress and estimated arrival from the
// orders page text.
func ParseOrderStatus(elements []model.Element) model.OrderStatus {
	var lines []string
	for _, el := range elements {
		if l := el.Label(); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	page := strings.Join(lines, "\n")

	st := model.OrderStatus{Status: statusUnknown}
	for _, k := range statusKeywords {
		if strings.Contains(page, k.keyword) {
			st.Status = k.status
			break
		}
	}
	if m := arrivalRe.FindStringSubmatch(page); m != nil {
		st.EstimatedArrival = m[1]
	}
	for _, re := range progressRe {
		if m := re.FindString(page); m != "" {
			st.Progress = m
			break
		}
	}
	return st
}

package extract

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mj1618/droid-order/internal/model"
)

// deliveryMarker identifies delivery-time strings ("25分钟", "约30分钟").
const deliveryMarker = "分钟"

// merchantSuffixes end store names. Matching is on the suffix so that a
// name like "蜜雪冰城(分店)" is not taken for a merchant.
var merchantSuffixes = []string{"店", "餐厅", "饭店", "store", "restaurant"}

// distanceRe matches distance badges such as "800m" and "1.2km".
var distanceRe = regexp.MustCompile(`^\d+(\.\d+)?\s*(m|km|米|公里)$`)

// Tag words and badge fragments that are never a meal name.
var (
	nameStopExact    = []string{"拼好饭", "好评", "新品", "招牌", "推荐", "免配送费", "准时宝", "马上抢"}
	nameStopContains = []string{"已售", "月售", "起送", "配送费", "人付款", "已拼"}
	discountRe       = regexp.MustCompile(`^(满\d+减\d+|\d+(\.\d+)?折|减\d+)`)
)

func isCurrency(s string) bool {
	return strings.HasPrefix(s, "¥") || strings.HasPrefix(s, "￥")
}

func isDelivery(s string) bool {
	return strings.Contains(s, deliveryMarker)
}

func isMerchant(s string) bool {
	lower := strings.ToLower(s)
	for _, suf := range merchantSuffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

func isNameStop(s string) bool {
	if distanceRe.MatchString(s) || discountRe.MatchString(s) {
		return true
	}
	if chromeStopList[s] || slices.Contains(nameStopExact, s) {
		return true
	}
	for _, w := range nameStopContains {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Anchors returns the top y of every price label, top to bottom, at most k.
// Elements sharing a row keep their dump order.
func Anchors(elements []model.Element, k int) []int {
	var anchors []model.Element
	for _, el := range elements {
		if isCurrency(strings.TrimSpace(el.Text)) {
			anchors = append(anchors, el)
		}
	}
	slices.SortStableFunc(anchors, func(a, b model.Element) int {
		return a.Top() - b.Top()
	})
	if k > 0 && len(anchors) > k {
		anchors = anchors[:k]
	}
	ys := make([]int, len(anchors))
	for i, a := range anchors {
		ys[i] = a.Top()
	}
	return ys
}

// Geometric is tier 2. Each price label anchors one listing card; every
// element whose top lies in [y-WindowAbove, y+WindowBelow) is attributed to
// that card. Windows are independent and may overlap. Within a window the
// first match per field wins, scanning in dump order.
func Geometric(elements []model.Element, k int, opts Options) []model.MealCandidate {
	opts = opts.withDefaults()
	if k <= 0 {
		k = opts.MaxResults
	}
	var meals []model.MealCandidate
	for _, y := range Anchors(elements, k) {
		lo, hi := y-opts.WindowAbove, y+opts.WindowBelow
		if meal, ok := attribute(elements, lo, hi); ok {
			meals = append(meals, meal)
		}
	}
	return model.Rerank(meals, k)
}

func attribute(elements []model.Element, lo, hi int) (model.MealCandidate, bool) {
	var m model.MealCandidate
	for _, el := range elements {
		top := el.Top()
		if top < lo || top >= hi {
			continue
		}
		text := strings.TrimSpace(el.Text)
		n := utf8.RuneCountInString(text)
		switch {
		case isCurrency(text):
			if m.Price == "" {
				m.Price = text
			}
		case isDelivery(text):
			if m.DeliveryTime == "" {
				m.DeliveryTime = text
			}
		case isMerchant(text):
			if m.Merchant == "" && n > 3 {
				m.Merchant = text
			}
		case m.Name == "" && n > 2 && !isNameStop(text):
			m.Name = text
		}
	}
	return m, m.Name != "" && m.Price != ""
}

package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mj1618/droid-order/internal/llm"
	"github.com/mj1618/droid-order/internal/model"
)

// chromeStopList holds header, search, and sort-control labels that are
// never part of a listing.
var chromeStopList = map[string]bool{
	"搜索":   true,
	"历史搜索": true,
	"搜索发现": true,
	"换一批":  true,
	"筛选":   true,
	"排序":   true,
	"综合排序": true,
}

// systemPrefixes mark framework or mini-program node text.
var systemPrefixes = []string{"android.", "mmp-"}

// errNoLLM is reported when tier 1 has no completer to call.
var errNoLLM = errors.New("no llm configured")

// FilterTexts selects the strings sent to the model: below the vertical
// threshold, longer than one rune, not chrome, not purely numeric. At most
// maxTexts are returned, in dump order.
func FilterTexts(elements []model.Element, threshold, maxTexts int) []string {
	var texts []string
	for _, el := range elements {
		if el.Top() <= threshold {
			continue
		}
		text := strings.TrimSpace(el.Text)
		if utf8.RuneCountInString(text) <= 1 || chromeStopList[text] || isNumeric(text) || hasSystemPrefix(text) {
			continue
		}
		texts = append(texts, text)
		if len(texts) == maxTexts {
			break
		}
	}
	return texts
}

// isNumeric reports whether s is only digits once '.' and ':' are removed
// (prices without a glyph, clock times, counters).
func isNumeric(s string) bool {
	s = strings.NewReplacer(".", "", ":", "").Replace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasSystemPrefix(s string) bool {
	for _, p := range systemPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// BuildPrompt renders the extraction prompt.
func BuildPrompt(texts []string, k int) string {
	var b strings.Builder
	b.WriteString("你是一个外卖信息提取助手。下面是从外卖 App 拼好饭搜索结果页面提取的文本列表，请从中识别出套餐信息。\n\n")
	b.WriteString("文本列表：\n")
	for _, t := range texts {
		b.WriteString(t)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n请按页面顺序提取前 %d 个套餐的信息，每个套餐包含：\n", k)
	b.WriteString(`- name: 套餐名称（如"珍珠奶茶(中杯)"、"麻辣香锅4荤5素"）
- price: 价格（如"¥4.9"）
- merchant: 商家名称（如"蜜雪冰城（五道口店）"），没有则留空
- delivery_time: 配送时间（如"25分钟"），没有则留空

只返回 JSON 数组，不要其他内容：
[{"name": "...", "price": "...", "merchant": "...", "delivery_time": "..."}]`)
	return b.String()
}

// ParseLLM is tier 1. It returns an error describing why it produced
// nothing; callers treat any error as "zero candidates".
func (p *Parser) ParseLLM(ctx context.Context, elements []model.Element, k int) ([]model.MealCandidate, error) {
	if p.llm == nil {
		return nil, errNoLLM
	}
	texts := FilterTexts(elements, p.opts.VerticalThreshold, p.opts.MaxTexts)
	if len(texts) == 0 {
		return nil, errors.New("no candidate text below the header")
	}
	reply, err := p.llm.Complete(ctx, BuildPrompt(texts, k), p.opts.Temperature)
	if err != nil {
		return nil, err
	}
	return DecodeMeals(reply, k)
}

// flexString accepts a JSON string or number; models sometimes return
// prices as bare numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

type llmMeal struct {
	Name         flexString `json:"name"`
	Price        flexString `json:"price"`
	Merchant     flexString `json:"merchant"`
	DeliveryTime flexString `json:"delivery_time"`
	Time         flexString `json:"time"`
}

// DecodeMeals parses a model reply: the first valid JSON value, either
// an array of meals or an object with a "meals" array. Entries without a
// name or price are dropped; ranks follow reply order; at most k are kept.
func DecodeMeals(reply string, k int) ([]model.MealCandidate, error) {
	raw, ok := llm.ExtractJSON(reply)
	if !ok {
		return nil, errors.New("reply contains no JSON")
	}
	var items []llmMeal
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("decode meal array: %w", err)
		}
	} else {
		var wrapper struct {
			Meals *[]llmMeal `json:"meals"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, fmt.Errorf("decode meal object: %w", err)
		}
		if wrapper.Meals == nil {
			return nil, errors.New(`reply object has no "meals" array`)
		}
		items = *wrapper.Meals
	}

	var meals []model.MealCandidate
	for _, it := range items {
		name := strings.TrimSpace(string(it.Name))
		price := normalizePrice(string(it.Price))
		if name == "" || price == "" {
			continue
		}
		delivery := strings.TrimSpace(string(it.DeliveryTime))
		if delivery == "" {
			delivery = strings.TrimSpace(string(it.Time))
		}
		meals = append(meals, model.MealCandidate{
			Name:         name,
			Price:        price,
			Merchant:     strings.TrimSpace(string(it.Merchant)),
			DeliveryTime: delivery,
		})
	}
	if len(meals) == 0 {
		return nil, errors.New("reply has no meal with both name and price")
	}
	return model.Rerank(meals, k), nil
}

// normalizePrice makes sure a price carries the currency glyph.
func normalizePrice(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || isCurrency(s) {
		return s
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return "¥" + s
	}
	return s
}

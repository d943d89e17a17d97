package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mj1618/droid-order/internal/model"
)

// stubLLM returns a canned reply and records the prompt it was sent.
type stubLLM struct {
	reply       string
	err         error
	prompt      string
	temperature float64
	calls       int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	s.calls++
	s.prompt = prompt
	s.temperature = temperature
	return s.reply, s.err
}

func el(text string, x1, y1, x2, y2 int) model.Element {
	return model.Element{Text: text, Bounds: [4]int{x1, y1, x2, y2}}
}

func TestGeometric_Scenario1(t *testing.T) {
	elements := []model.Element{
		el("¥9.9", 100, 520, 180, 560),
		el("蜜雪冰城(分店)", 100, 300, 400, 340),
		el("25分钟", 100, 560, 200, 600),
	}
	got := Geometric(elements, 1, DefaultOptions())
	want := []model.MealCandidate{{Rank: 0, Name: "蜜雪冰城(分店)", Price: "¥9.9", DeliveryTime: "25分钟"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Geometric mismatch (-want +got):\n%s", diff)
	}
}

func TestGeometric_WindowAttribution(t *testing.T) {
	// Anchors at 500 and 900 give windows [150,580) and [550,980).
	elements := []model.Element{
		el("30分钟", 600, 520, 700, 560),
		el("¥8.8", 100, 500, 200, 540),
		el("韭菜鸡蛋包子", 100, 420, 500, 460),
		el("¥15.0", 100, 900, 200, 940),
		el("牛肉拉面大碗", 100, 820, 500, 860),
		el("蜜雪冰城五道口店", 100, 940, 500, 970),
	}
	got := Geometric(elements, 2, DefaultOptions())
	want := []model.MealCandidate{
		{Rank: 0, Name: "韭菜鸡蛋包子", Price: "¥8.8", DeliveryTime: "30分钟"},
		{Rank: 1, Name: "牛肉拉面大碗", Price: "¥15.0", Merchant: "蜜雪冰城五道口店"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Geometric mismatch (-want +got):\n%s", diff)
	}
}

func TestGeometric_WindowBoundsHalfOpen(t *testing.T) {
	opts := DefaultOptions()
	elements := []model.Element{
		el("¥5", 0, 1000, 50, 1040),
		el("上边界的名字", 0, 650, 50, 690),  // 1000-350: included
		el("下边界的名字", 0, 1080, 50, 1120), // 1000+80: excluded
	}
	got := Geometric(elements, 1, opts)
	if len(got) != 1 || got[0].Name != "上边界的名字" {
		t.Errorf("got %+v", got)
	}

	elements[1].Bounds[1] = 649
	if got := Geometric(elements, 1, opts); len(got) != 0 {
		t.Errorf("name above the window should not count, got %+v", got)
	}
}

func TestGeometric_RanksDenseAndBounded(t *testing.T) {
	var elements []model.Element
	// Card 2 (y=1500) has no name, so it is skipped and ranks close up.
	for _, y := range []int{500, 1000, 1500, 2000} {
		elements = append(elements, el("¥10", 0, y, 100, y+40))
		if y != 1500 {
			elements = append(elements, el("套餐名称"+strings.Repeat("大", y/500), 0, y-100, 100, y-60))
		}
	}
	for k := 1; k <= 4; k++ {
		got := Geometric(elements, k, DefaultOptions())
		if len(got) > k {
			t.Errorf("k=%d: got %d meals", k, len(got))
		}
		for i, m := range got {
			if m.Rank != i {
				t.Errorf("k=%d: meal %d has rank %d", k, i, m.Rank)
			}
		}
	}
	if got := Geometric(elements, 4, DefaultOptions()); len(got) != 3 {
		t.Errorf("k=4: expected 3 emitted meals, got %d", len(got))
	}
}

func TestGeometric_NameStopList(t *testing.T) {
	elements := []model.Element{
		el("1.2km", 0, 400, 10, 410),
		el("拼好饭", 0, 405, 10, 415),
		el("已售1000+", 0, 410, 10, 420),
		el("满20减3", 0, 415, 10, 425),
		el("¥3.5", 0, 500, 10, 540),
		el("鲜肉小笼包", 0, 420, 10, 430),
	}
	got := Geometric(elements, 1, DefaultOptions())
	if len(got) != 1 || got[0].Name != "鲜肉小笼包" {
		t.Errorf("got %+v", got)
	}
}

func TestAnchors_SortedStable(t *testing.T) {
	elements := []model.Element{
		el("¥3", 0, 900, 1, 1),
		el("￥1", 0, 500, 1, 1),
		el("¥2", 0, 500, 1, 1),
		el("价格¥4", 0, 100, 1, 1),
	}
	if got := Anchors(elements, 0); !cmp.Equal(got, []int{500, 500, 900}) {
		t.Errorf("anchors: got %v", got)
	}
	if got := Anchors(elements, 2); !cmp.Equal(got, []int{500, 500}) {
		t.Errorf("anchors k=2: got %v", got)
	}
}

func TestFilterTexts(t *testing.T) {
	elements := []model.Element{
		el("综合排序", 0, 400, 1, 1),
		el("header", 0, 350, 1, 1),
		el("12:30", 0, 400, 1, 1),
		el("4.9", 0, 400, 1, 1),
		el("a", 0, 400, 1, 1),
		el("android.widget.TextView", 0, 400, 1, 1),
		el("珍珠奶茶", 0, 351, 1, 1),
		el("¥4.9", 0, 400, 1, 1),
	}
	got := FilterTexts(elements, 350, 100)
	want := []string{"珍珠奶茶", "¥4.9"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FilterTexts mismatch (-want +got):\n%s", diff)
	}
	if got := FilterTexts(elements, 350, 1); len(got) != 1 {
		t.Errorf("cap: got %d texts", len(got))
	}
}

func TestDecodeMeals(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		k     int
		want  []model.MealCandidate
		err   bool
	}{
		{
			name:  "array with time alias",
			reply: "```json\n[{\"name\":\"珍珠奶茶\",\"price\":\"¥4.9\",\"merchant\":\"蜜雪冰城\",\"time\":\"25分钟\"}]\n```",
			k:     3,
			want:  []model.MealCandidate{{Rank: 0, Name: "珍珠奶茶", Price: "¥4.9", Merchant: "蜜雪冰城", DeliveryTime: "25分钟"}},
		},
		{
			name:  "object with meals and numeric price",
			reply: `{"meals":[{"name":"麻辣香锅","price":19.9,"delivery_time":"30分钟"}]}`,
			k:     3,
			want:  []model.MealCandidate{{Rank: 0, Name: "麻辣香锅", Price: "¥19.9", DeliveryTime: "30分钟"}},
		},
		{
			name:  "drops incomplete and reranks",
			reply: `[{"name":"","price":"¥1"},{"name":"A套餐","price":"¥2"},{"name":"B套餐"},{"name":"C套餐","price":"¥3"}]`,
			k:     1,
			want:  []model.MealCandidate{{Rank: 0, Name: "A套餐", Price: "¥2"}},
		},
		{
			name:  "bracketed prose before the array",
			reply: "根据[文本列表]提取结果如下：\n[{\"name\":\"招牌牛肉面\",\"price\":\"¥12.9\"}]",
			k:     3,
			want:  []model.MealCandidate{{Rank: 0, Name: "招牌牛肉面", Price: "¥12.9"}},
		},
		{name: "malformed", reply: `[{"name": "x", "price": }]`, k: 3, err: true},
		{name: "prose only", reply: "抱歉，我无法识别", k: 3, err: true},
		{name: "object without meals", reply: `{"error":"none"}`, k: 3, err: true},
		{name: "no complete entries", reply: `[{"name":"x"}]`, k: 3, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMeals(tt.reply, tt.k)
			if tt.err {
				if err == nil {
					t.Errorf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeMeals mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func searchPage() []model.Element {
	return []model.Element{
		el("搜索", 900, 140, 1020, 200),
		el("珍珠奶茶(中杯)", 100, 420, 500, 460),
		el("¥4.9", 100, 500, 200, 540),
		el("25分钟", 300, 500, 400, 540),
	}
}

func TestParse_LLMWins(t *testing.T) {
	stub := &stubLLM{reply: `[{"name":"LLM套餐","price":"¥1.0"}]`}
	p := NewParser(stub, Options{})
	got, tier := p.Parse(context.Background(), searchPage(), 3)
	if tier != TierLLM {
		t.Fatalf("tier: got %v, want llm", tier)
	}
	if len(got) != 1 || got[0].Name != "LLM套餐" {
		t.Errorf("got %+v", got)
	}
	if stub.temperature != 0.1 {
		t.Errorf("temperature: got %v", stub.temperature)
	}
	if strings.Contains(stub.prompt, "搜索\n") {
		t.Error("chrome text above the threshold leaked into the prompt")
	}
	if !strings.Contains(stub.prompt, "前 3 个") {
		t.Errorf("prompt should ask for k items: %s", stub.prompt)
	}
}

func TestParse_FallbackOnLLMError(t *testing.T) {
	p := NewParser(&stubLLM{err: errors.New("HTTP 500")}, Options{})
	got, tier := p.Parse(context.Background(), searchPage(), 3)
	if tier != TierGeometric {
		t.Fatalf("tier: got %v, want geometric", tier)
	}
	want := []model.MealCandidate{{Rank: 0, Name: "珍珠奶茶(中杯)", Price: "¥4.9", DeliveryTime: "25分钟"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NoLLMConfigured(t *testing.T) {
	got, tier := NewParser(nil, Options{}).Parse(context.Background(), searchPage(), 3)
	if tier != TierGeometric || len(got) != 1 {
		t.Errorf("got %+v tier %v", got, tier)
	}
}

func TestParse_Scenario2BothTiersEmpty(t *testing.T) {
	stub := &stubLLM{reply: `[{"name": "broken"`}
	elements := []model.Element{el("暂无相关结果", 100, 800, 900, 860)}
	got, tier := NewParser(stub, Options{}).Parse(context.Background(), elements, 3)
	if tier != TierNone {
		t.Errorf("tier: got %v, want none", tier)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
	if stub.calls != 1 {
		t.Errorf("llm calls: got %d, want 1", stub.calls)
	}
}

func TestTierString(t *testing.T) {
	for tier, want := range map[Tier]string{TierNone: "none", TierLLM: "llm", TierGeometric: "geometric"} {
		if got := tier.String(); got != want {
			t.Errorf("%d: got %q, want %q", tier, got, want)
		}
	}
}

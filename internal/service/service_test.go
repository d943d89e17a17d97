package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mj1618/droid-order/internal/automation"
	"github.com/mj1618/droid-order/internal/coordinator"
	"github.com/mj1618/droid-order/internal/extract"
	"github.com/mj1618/droid-order/internal/model"
)

const testPackage = "com.example.delivery"

type fakeDevice struct {
	mu       sync.Mutex
	offline  bool
	connects int
	stopped  []string
}

func (d *fakeDevice) Connect(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	return !d.offline
}

func (d *fakeDevice) ForceStop(ctx context.Context, pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = append(d.stopped, pkg)
}

func (d *fakeDevice) stops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.stopped...)
}

type fakeFlows struct {
	search   func(ctx context.Context, keyword string, k int) (automation.SearchResult, error)
	order    func(ctx context.Context, name string) (automation.OrderResult, error)
	pay      func(ctx context.Context) (automation.PaymentResult, error)
	status   func(ctx context.Context) (model.OrderStatus, error)
	freeForm func(ctx context.Context, task string) (automation.AgentResult, error)
}

func (f *fakeFlows) Search(ctx context.Context, keyword string, k int) (automation.SearchResult, error) {
	return f.search(ctx, keyword, k)
}

func (f *fakeFlows) PlaceOrder(ctx context.Context, name string) (automation.OrderResult, error) {
	return f.order(ctx, name)
}

func (f *fakeFlows) ConfirmPayment(ctx context.Context) (automation.PaymentResult, error) {
	return f.pay(ctx)
}

func (f *fakeFlows) OrderStatus(ctx context.Context) (model.OrderStatus, error) {
	return f.status(ctx)
}

func (f *fakeFlows) FreeForm(ctx context.Context, task string) (automation.AgentResult, error) {
	return f.freeForm(ctx, task)
}

func newTestService(flows *fakeFlows) (*Service, *fakeDevice) {
	dev := &fakeDevice{}
	return New(dev, flows, Options{Package: testPackage, CancelWait: time.Second}), dev
}

var twoMeals = []model.MealCandidate{
	{Rank: 0, Name: "招牌牛肉面", Price: "¥12.9", DeliveryTime: "30分钟"},
	{Rank: 1, Name: "红烧牛肉饭", Price: "¥15"},
}

func TestSubmitTask_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		kind   Kind
		params map[string]any
		want   string
	}{
		{"unknown kind", "dance", nil, "未知任务类型"},
		{"missing keyword", KindSearch, map[string]any{"keyword": "  "}, "请提供搜索关键词"},
		{"missing task", KindFreeForm, map[string]any{}, "请提供任务描述"},
		{"order before search", KindPlaceOrder, map[string]any{"meal_index": 0}, "请先搜索套餐"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, dev := newTestService(&fakeFlows{})
			res := svc.SubmitTask(context.Background(), tt.kind, tt.params)
			if res.Success || !strings.Contains(res.Message, tt.want) {
				t.Errorf("got %+v, want failure containing %q", res, tt.want)
			}
			if dev.connects != 0 {
				t.Error("rejected task must not touch the device")
			}
		})
	}
}

func TestSubmitTask_SearchThenOrderByIndex(t *testing.T) {
	var ordered string
	flows := &fakeFlows{
		search: func(ctx context.Context, keyword string, k int) (automation.SearchResult, error) {
			if k != 3 {
				t.Errorf("k = %d, want the default 3", k)
			}
			return automation.SearchResult{Keyword: keyword, Meals: twoMeals, Tier: extract.TierGeometric}, nil
		},
		order: func(ctx context.Context, name string) (automation.OrderResult, error) {
			ordered = name
			return automation.OrderResult{MealName: name, Price: "¥15"}, nil
		},
	}
	svc, _ := newTestService(flows)

	res := svc.SubmitTask(context.Background(), KindSearch, map[string]any{"keyword": "牛肉"})
	if !res.Success {
		t.Fatalf("search failed: %+v", res)
	}
	if want := "找到2个结果。第1个是招牌牛肉面，¥12.9。第2个是红烧牛肉饭，¥15"; res.Message != want {
		t.Errorf("message = %q", res.Message)
	}
	if diff := cmp.Diff(twoMeals, svc.LastMeals()); diff != "" {
		t.Errorf("last meals (-want +got):\n%s", diff)
	}

	res = svc.SubmitTask(context.Background(), KindPlaceOrder, map[string]any{"meal_index": float64(1)})
	if !res.Success || ordered != "红烧牛肉饭" {
		t.Fatalf("order: %+v, ordered %q", res, ordered)
	}
	if res.Data["price"] != "¥15" {
		t.Errorf("data = %v", res.Data)
	}

	res = svc.SubmitTask(context.Background(), KindPlaceOrder, map[string]any{"meal_index": 5})
	if res.Success || !strings.Contains(res.Message, "超出范围") {
		t.Errorf("out of range index: %+v", res)
	}
}

func TestSubmitTask_EmptySearchSucceeds(t *testing.T) {
	flows := &fakeFlows{search: func(ctx context.Context, keyword string, k int) (automation.SearchResult, error) {
		return automation.SearchResult{Keyword: keyword, Meals: []model.MealCandidate{}, Tier: extract.TierNone}, nil
	}}
	svc, _ := newTestService(flows)
	res := svc.SubmitTask(context.Background(), KindSearch, map[string]any{"keyword": "火星菜"})
	if !res.Success || res.Message != "没有找到相关的套餐" {
		t.Fatalf("got %+v", res)
	}
	if meals, ok := res.Data["meals"].([]model.MealCandidate); !ok || meals == nil || len(meals) != 0 {
		t.Errorf("meals should be an empty list, got %#v", res.Data["meals"])
	}
}

func TestSubmitTask_ErrorMapping(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		flows *fakeFlows
		want  string
	}{
		{
			name: "transition timeout",
			kind: KindOrderStatus,
			flows: &fakeFlows{status: func(ctx context.Context) (model.OrderStatus, error) {
				return model.OrderStatus{}, &automation.TransitionError{From: automation.AppLaunching, To: automation.Home}
			}},
			want: "页面加载超时 (home)",
		},
		{
			name: "agent timeout",
			kind: KindFreeForm,
			flows: &fakeFlows{freeForm: func(ctx context.Context, task string) (automation.AgentResult, error) {
				return automation.AgentResult{}, context.DeadlineExceeded
			}},
			want: MessageTimeout,
		},
		{
			name: "no pay button",
			kind: KindConfirmPayment,
			flows: &fakeFlows{pay: func(ctx context.Context) (automation.PaymentResult, error) {
				return automation.PaymentResult{}, automation.ErrNoPayButton
			}},
			want: MessageNoPayButton,
		},
		{
			name: "plain error",
			kind: KindConfirmPayment,
			flows: &fakeFlows{pay: func(ctx context.Context) (automation.PaymentResult, error) {
				return automation.PaymentResult{}, errors.New("adb: device offline")
			}},
			want: "adb: device offline",
		},
		{
			name: "steps exhausted",
			kind: KindFreeForm,
			flows: &fakeFlows{freeForm: func(ctx context.Context, task string) (automation.AgentResult, error) {
				return automation.AgentResult{Steps: make([]automation.StepResult, 20)}, automation.ErrStepsExhausted
			}},
			want: "步骤数已用完，任务未完成",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(tt.flows)
			res := svc.SubmitTask(context.Background(), tt.kind, map[string]any{"task_description": "查看订单"})
			if res.Success || res.Message != tt.want {
				t.Errorf("got %+v, want message %q", res, tt.want)
			}
		})
	}
}

func TestSubmitTask_DeviceOffline(t *testing.T) {
	called := false
	svc, dev := newTestService(&fakeFlows{status: func(ctx context.Context) (model.OrderStatus, error) {
		called = true
		return model.OrderStatus{}, nil
	}})
	dev.offline = true
	res := svc.SubmitTask(context.Background(), KindOrderStatus, nil)
	if res.Success || res.Message != MessageNotConnected || called {
		t.Errorf("got %+v, flow called %v", res, called)
	}
}

func TestSubmitTask_FreeFormVoice(t *testing.T) {
	svc, _ := newTestService(&fakeFlows{freeForm: func(ctx context.Context, task string) (automation.AgentResult, error) {
		return automation.AgentResult{
			Success: true,
			Reason:  `{"orders": [{"name": "牛肉面"}]}`,
			Steps:   []automation.StepResult{{Step: 1, OK: true, Action: "done"}},
		}, nil
	}})
	res := svc.SubmitTask(context.Background(), KindFreeForm, map[string]any{"task_description": "看看我的订单"})
	if !res.Success || res.Message != "您有1个订单" {
		t.Fatalf("got %+v", res)
	}
	if steps, _ := res.Data["steps"].([]automation.StepResult); len(steps) != 1 {
		t.Errorf("steps = %v", res.Data["steps"])
	}
}

func TestSubmitTask_NewRequestSupersedesOld(t *testing.T) {
	started := make(chan struct{})
	flows := &fakeFlows{
		search: func(ctx context.Context, keyword string, k int) (automation.SearchResult, error) {
			if keyword == "慢" {
				close(started)
				<-ctx.Done()
				return automation.SearchResult{}, ctx.Err()
			}
			return automation.SearchResult{Keyword: keyword, Meals: twoMeals}, nil
		},
	}
	svc, dev := newTestService(flows)

	first := make(chan model.Result, 1)
	go func() {
		first <- svc.SubmitTask(context.Background(), KindSearch, map[string]any{"keyword": "慢"})
	}()
	<-started

	second := svc.SubmitTask(context.Background(), KindSearch, map[string]any{"keyword": "快"})
	if !second.Success {
		t.Fatalf("second: %+v", second)
	}
	res := <-first
	if res.Success || res.Message != coordinator.MessageSuperseded {
		t.Errorf("first: %+v", res)
	}
	if diff := cmp.Diff([]string{testPackage}, dev.stops()); diff != "" {
		t.Errorf("force stops (-want +got):\n%s", diff)
	}
	if _, busy := svc.Current(); busy {
		t.Error("slot should be empty once both tasks returned")
	}
}

// Package service is the task-submission boundary. Every request names a
// kind and carries JSON-shaped parameters; the service validates them,
// then runs the matching flow under the coordinator so that at most one
// flow drives the device at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mj1618/droid-order/internal/automation"
	"github.com/mj1618/droid-order/internal/coordinator"
	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/model"
)

// Kind names a task.
type Kind string

const (
	KindSearch         Kind = "search"
	KindPlaceOrder     Kind = "place_order"
	KindConfirmPayment Kind = "confirm_payment"
	KindFreeForm       Kind = "free_form"
	KindOrderStatus    Kind = "order_status"
)

// Kinds lists the accepted kinds.
func Kinds() []Kind {
	return []Kind{KindSearch, KindPlaceOrder, KindConfirmPayment, KindFreeForm, KindOrderStatus}
}

// User-facing failure messages.
const (
	MessageNotConnected = "无法连接到手机，请检查网络或手机状态"
	MessageTimeout      = "操作超时，请稍后重试"
	MessageNoPayment    = "未到达支付页面或无法提取价格"
	MessageNoPayButton  = "未找到支付按钮"
	MessageNoLLM        = "未配置大模型，无法执行自由任务"
)

// Device is the part of the device session the service touches directly.
type Device interface {
	Connect(ctx context.Context) bool
	ForceStop(ctx context.Context, pkg string)
}

// Flows is the automation surface. *automation.Automator implements it.
type Flows interface {
	Search(ctx context.Context, keyword string, k int) (automation.SearchResult, error)
	PlaceOrder(ctx context.Context, mealName string) (automation.OrderResult, error)
	ConfirmPayment(ctx context.Context) (automation.PaymentResult, error)
	OrderStatus(ctx context.Context) (model.OrderStatus, error)
	FreeForm(ctx context.Context, task string) (automation.AgentResult, error)
}

// Options configures a Service.
type Options struct {
	Package    string
	MaxResults int
	CancelWait time.Duration
}

// Service accepts tasks.
type Service struct {
	dev   Device
	flows Flows
	coord *coordinator.Coordinator
	opts  Options

	mu        sync.Mutex
	lastMeals []model.MealCandidate
}

// New creates a Service. Preempted tasks leave the app force-stopped.
func New(dev Device, flows Flows, opts Options) *Service {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 3
	}
	co := coordinator.New(coordinator.Options{
		CancelWait: opts.CancelWait,
		ForceStop: func(ctx context.Context) {
			ctxlog.FromContext(ctx).Info("force-stopping app after preemption", "package", opts.Package)
			dev.ForceStop(ctx, opts.Package)
		},
	})
	return &Service{dev: dev, flows: flows, coord: co, opts: opts}
}

// Current returns the task in flight, if any.
func (s *Service) Current() (*coordinator.TaskHandle, bool) {
	return s.coord.Current()
}

// LastMeals returns the meals of the most recent successful search.
func (s *Service) LastMeals() []model.MealCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.MealCandidate(nil), s.lastMeals...)
}

// SubmitTask validates params for kind and runs the task, preempting any
// task in flight. Malformed requests fail without touching the device.
func (s *Service) SubmitTask(ctx context.Context, kind Kind, params map[string]any) model.Result {
	if params == nil {
		params = map[string]any{}
	}
	desc, body, err := s.plan(kind, params)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("task rejected", "kind", kind, "error", err)
		return model.Fail(err.Error())
	}
	ctx = ctxlog.With(ctx, "kind", string(kind))
	return s.coord.Submit(ctx, desc, s.guard(body))
}

// plan resolves a request into a description and a body.
func (s *Service) plan(kind Kind, params map[string]any) (string, coordinator.Body, error) {
	switch kind {
	case KindSearch:
		keyword := strings.TrimSpace(model.StringParam(params, "keyword", ""))
		if keyword == "" {
			return "", nil, errors.New("请提供搜索关键词")
		}
		k := model.IntParam(params, "max_results", s.opts.MaxResults)
		return "search " + keyword, func(ctx context.Context) (model.Result, error) {
			return s.search(ctx, keyword, k)
		}, nil

	case KindPlaceOrder:
		name, err := s.resolveMeal(params)
		if err != nil {
			return "", nil, err
		}
		return "place_order " + name, func(ctx context.Context) (model.Result, error) {
			return s.placeOrder(ctx, name)
		}, nil

	case KindConfirmPayment:
		return "confirm_payment", s.confirmPayment, nil

	case KindOrderStatus:
		return "order_status", s.orderStatus, nil

	case KindFreeForm:
		task := strings.TrimSpace(model.StringParam(params, "task_description", model.StringParam(params, "task", "")))
		if task == "" {
			return "", nil, errors.New("请提供任务描述")
		}
		return "free_form " + task, func(ctx context.Context) (model.Result, error) {
			return s.freeForm(ctx, task)
		}, nil
	}
	return "", nil, fmt.Errorf("未知任务类型: %q (支持: %s)", kind, joinKinds())
}

// resolveMeal picks the meal name for place_order: an explicit name wins,
// otherwise meal_index (0-based) selects from the last search.
func (s *Service) resolveMeal(params map[string]any) (string, error) {
	if name := strings.TrimSpace(model.StringParam(params, "meal_name", "")); name != "" {
		return name, nil
	}
	idx := model.IntParam(params, "meal_index", 0)
	meals := s.LastMeals()
	if len(meals) == 0 {
		return "", errors.New("请先搜索套餐，或提供套餐名称")
	}
	if idx < 0 || idx >= len(meals) {
		return "", fmt.Errorf("套餐序号 %d 超出范围 (共 %d 个)", idx, len(meals))
	}
	if meals[idx].Name == "" {
		return "", fmt.Errorf("第 %d 个套餐没有名称，请提供套餐名称", idx+1)
	}
	return meals[idx].Name, nil
}

// guard connects to the device before the body runs and turns the flow
// errors callers can act on into spoken messages. Cancellation is passed
// through untouched for the coordinator to report.
func (s *Service) guard(body coordinator.Body) coordinator.Body {
	return func(ctx context.Context) (model.Result, error) {
		if !s.dev.Connect(ctx) {
			if ctx.Err() != nil {
				return model.Result{}, ctx.Err()
			}
			return model.Fail(MessageNotConnected), nil
		}
		res, err := body(ctx)
		if err == nil || ctx.Err() != nil {
			return res, err
		}
		var te *automation.TransitionError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return model.Fail(MessageTimeout), nil
		case errors.As(err, &te):
			ctxlog.FromContext(ctx).Warn("transition timed out", "from", te.From, "to", te.To, "signal", te.Signal.String())
			return model.Fail(fmt.Sprintf("页面加载超时 (%s)", te.To)), nil
		case errors.Is(err, automation.ErrNoLLM):
			return model.Fail(MessageNoLLM), nil
		}
		return res, err
	}
}

func (s *Service) search(ctx context.Context, keyword string, k int) (model.Result, error) {
	res, err := s.flows.Search(ctx, keyword, k)
	if err != nil {
		return model.Result{}, err
	}
	s.mu.Lock()
	s.lastMeals = res.Meals
	s.mu.Unlock()
	return model.OK(automation.DescribeMeals(res.Meals), map[string]any{
		"keyword": res.Keyword,
		"meals":   res.Meals,
		"tier":    res.Tier.String(),
	}), nil
}

func (s *Service) placeOrder(ctx context.Context, name string) (model.Result, error) {
	res, err := s.flows.PlaceOrder(ctx, name)
	switch {
	case errors.Is(err, automation.ErrMealNotFound):
		return model.Fail(fmt.Sprintf("未找到套餐: %s", name)), nil
	case err != nil:
		return model.Result{}, err
	case res.Price == "":
		return model.Fail(MessageNoPayment), nil
	}
	return model.OK(fmt.Sprintf("已到达支付页面，%s，价格%s", res.MealName, res.Price), map[string]any{
		"meal_name": res.MealName,
		"price":     res.Price,
	}), nil
}

func (s *Service) confirmPayment(ctx context.Context) (model.Result, error) {
	res, err := s.flows.ConfirmPayment(ctx)
	switch {
	case errors.Is(err, automation.ErrNoPayButton):
		return model.Fail(MessageNoPayButton), nil
	case err != nil:
		return model.Result{}, err
	}
	msg := "已点击支付按钮: " + res.Button
	if res.Passwordless {
		msg += "，并点击免密支付"
	}
	return model.OK(msg, map[string]any{"button": res.Button, "passwordless": res.Passwordless}), nil
}

func (s *Service) orderStatus(ctx context.Context) (model.Result, error) {
	st, err := s.flows.OrderStatus(ctx)
	if err != nil {
		return model.Result{}, err
	}
	msg := "订单状态: " + st.Status
	if st.EstimatedArrival != "" {
		msg += "，预计" + st.EstimatedArrival + "送达"
	}
	return model.OK(msg, map[string]any{
		"status":            st.Status,
		"progress":          st.Progress,
		"estimated_arrival": st.EstimatedArrival,
	}), nil
}

func (s *Service) freeForm(ctx context.Context, task string) (model.Result, error) {
	res, err := s.flows.FreeForm(ctx, task)
	if errors.Is(err, automation.ErrStepsExhausted) {
		out := model.Fail("步骤数已用完，任务未完成")
		out.Data = map[string]any{"steps": res.Steps}
		return out, nil
	}
	if err != nil {
		return model.Result{}, err
	}
	out := automation.FormatForVoice(res.Success, res.Reason)
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	out.Data["steps"] = res.Steps
	return out, nil
}

func joinKinds() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

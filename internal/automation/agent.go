package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mj1618/droid-order/internal/ctxlog"
	"github.com/mj1618/droid-order/internal/llm"
	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/screen"
)

// StepResult is the outcome of one agent step.
type StepResult struct {
	Step   int    `yaml:"step"            json:"step"`
	OK     bool   `yaml:"ok"              json:"ok"`
	Action string `yaml:"action"          json:"action"`
	Detail string `yaml:"detail,omitempty" json:"detail,omitempty"`
	Error  string `yaml:"error,omitempty" json:"error,omitempty"`
	// Unchanged is set when the screen read after the step showed the
	// same content as before it.
	Unchanged bool `yaml:"unchanged,omitempty" json:"unchanged,omitempty"`
}

// AgentResult is what the model reported when it finished.
type AgentResult struct {
	Success bool
	Reason  string
	Steps   []StepResult
}

const agentPrompt = `你是一个手机自动化助手，正在操作外卖 App（包名 %s）。

用户的需求是：%s

操作时注意：
1. 如果遇到弹窗（红包、广告、更新提示），先关闭它
2. 拼好饭入口通常在首页

当前屏幕元素（[序号] 角色 "文本" @中心坐标，* 表示可点击）：
%s
已执行的步骤：
%s
每次只返回一个 JSON 动作，不要其他内容。可用动作：
{"action": "tap", "index": 序号}
{"action": "tap", "x": 540, "y": 1200}
{"action": "type", "text": "文字", "index": 输入框序号, "clear": true}
{"action": "swipe", "x1": 540, "y1": 1800, "x2": 540, "y2": 600, "ms": 300}
{"action": "press", "key": "back|home|enter"}
{"action": "launch"}
{"action": "dismiss_popups"}
{"action": "wait", "ms": 1000}
{"action": "done", "success": true, "result": "结果"}

完成任务时用 done 结束。如果任务涉及搜索，result 用 JSON：{"meals": [{"name": "套餐名", "price": "¥xx", "delivery_time": "xx分钟"}]}
如果无法完成，返回 {"action": "done", "success": false, "result": "失败原因"}`

// FreeForm lets the LLM drive the device one action at a time until it
// reports done, the step limit is hit, or the task times out.
func (a *Automator) FreeForm(ctx context.Context, task string) (AgentResult, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return AgentResult{}, fmt.Errorf("empty task description")
	}
	if a.llm == nil {
		return AgentResult{}, ErrNoLLM
	}
	ctx = ctxlog.With(ctx, "flow", "free_form")
	log := ctxlog.FromContext(ctx)
	r := a.start(ctx, "free_form")

	runCtx, cancel := context.WithTimeout(ctx, a.opts.FreeFormTimeout)
	defer cancel()

	var res AgentResult
	var prev []model.Element
	for n := 1; n <= a.opts.FreeFormSteps; n++ {
		els, err := r.read(runCtx, fmt.Sprintf("agent_%02d", n))
		if err != nil {
			return res, agentErr(ctx, err)
		}
		markUnchanged(res.Steps, prev, els)
		prev = els
		prompt := fmt.Sprintf(agentPrompt, a.opts.Package, task, describeScreen(els), describeSteps(res.Steps))
		reply, err := a.llm.Complete(runCtx, prompt, 0.1)
		if err != nil {
			return res, agentErr(ctx, err)
		}

		params, err := decodeAction(reply)
		if err != nil {
			res.Steps = append(res.Steps, StepResult{Step: n, Action: "invalid", Error: err.Error()})
			continue
		}
		action := model.StringParam(params, "action", "")
		if action == "done" {
			res.Success = model.BoolParam(params, "success", false)
			res.Reason = resultParam(params)
			res.Steps = append(res.Steps, StepResult{Step: n, OK: true, Action: action})
			log.Info("agent finished", "success", res.Success, "steps", n)
			return res, nil
		}

		step, err := a.executeStep(runCtx, action, params, els)
		step.Step = n
		step.OK = err == nil
		if err != nil {
			if runCtx.Err() != nil {
				return res, agentErr(ctx, err)
			}
			step.Error = err.Error()
		}
		res.Steps = append(res.Steps, step)
		log.Debug("agent step", "step", n, "action", action, "ok", step.OK)
	}
	return res, ErrStepsExhausted
}

// agentErr distinguishes the agent's own timeout from the caller going
// away; the latter must surface as cancellation.
func agentErr(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

// executeStep runs one model action. seen is the read the model chose the
// action from; element indices refer to it.
func (a *Automator) executeStep(ctx context.Context, action string, params map[string]any, seen []model.Element) (StepResult, error) {
	switch action {
	case "tap":
		return a.executeTap(ctx, params, seen)
	case "type":
		text := model.StringParam(params, "text", "")
		res := StepResult{Action: action, Detail: text}
		if text == "" {
			return res, fmt.Errorf("type needs text")
		}
		target := -1
		if _, ok := params["index"]; ok {
			el, err := a.resolveSeen(ctx, seen, model.IntParam(params, "index", -1))
			if err != nil {
				return res, err
			}
			target = el.Index
		}
		return res, a.dev.TypeText(ctx, text, target, model.BoolParam(params, "clear", false))
	case "swipe":
		err := a.dev.Swipe(ctx, model.IntParam(params, "x1", 540), model.IntParam(params, "y1", 1800),
			model.IntParam(params, "x2", 540), model.IntParam(params, "y2", 600), model.IntParam(params, "ms", 300))
		return StepResult{Action: action}, err
	case "press":
		key, err := platform.ParseKey(model.StringParam(params, "key", ""))
		if err != nil {
			return StepResult{Action: action}, err
		}
		return StepResult{Action: action, Detail: key.String()}, a.dev.Press(ctx, key)
	case "launch":
		return StepResult{Action: action, Detail: a.opts.Package}, a.dev.LaunchApp(ctx, a.opts.Package)
	case "dismiss_popups":
		if a.popups == nil {
			return StepResult{Action: action}, fmt.Errorf("popup dismissal not available")
		}
		closed := a.popups.Dismiss(ctx, a.opts.PopupAttempts)
		return StepResult{Action: action, Detail: fmt.Sprintf("closed=%v", closed)}, nil
	case "wait":
		ms := model.IntParam(params, "ms", 1000)
		if ms <= 0 || ms > 10000 {
			return StepResult{Action: action}, fmt.Errorf("ms must be in (0, 10000]")
		}
		return StepResult{Action: action, Detail: fmt.Sprintf("%dms", ms)}, sleepCtx(ctx, time.Duration(ms)*time.Millisecond)
	default:
		return StepResult{Action: action}, fmt.Errorf("unknown action %q: supported: tap, type, swipe, press, launch, dismiss_popups, wait, done", action)
	}
}

func (a *Automator) executeTap(ctx context.Context, params map[string]any, seen []model.Element) (StepResult, error) {
	if _, ok := params["index"]; ok {
		idx := model.IntParam(params, "index", -1)
		res := StepResult{Action: "tap", Detail: fmt.Sprintf("index=%d", idx)}
		el, err := a.resolveSeen(ctx, seen, idx)
		if err != nil {
			return res, err
		}
		return res, a.dev.TapElement(ctx, el)
	}
	x, y := model.IntParam(params, "x", -1), model.IntParam(params, "y", -1)
	res := StepResult{Action: "tap", Detail: fmt.Sprintf("%d,%d", x, y)}
	if x < 0 || y < 0 {
		return res, fmt.Errorf("tap needs index or x and y")
	}
	return res, a.dev.TapPoint(ctx, x, y)
}

// resolveSeen maps an index from the read the model saw to the same element
// in a fresh read, matched by label and bounds. The screen may have changed
// while the model was thinking; an element that moved or vanished fails
// the step instead of hitting whatever took its index.
func (a *Automator) resolveSeen(ctx context.Context, seen []model.Element, idx int) (model.Element, error) {
	var want model.Element
	found := false
	for _, el := range seen {
		if el.Index == idx {
			want, found = el, true
			break
		}
	}
	if !found {
		return model.Element{}, fmt.Errorf("element %d not on screen", idx)
	}
	els, err := a.dev.ReadElements(ctx)
	if err != nil {
		return model.Element{}, err
	}
	for _, el := range els {
		if el.Bounds == want.Bounds && el.Label() == want.Label() && el.Class == want.Class {
			return el, nil
		}
	}
	return model.Element{}, fmt.Errorf("element %d %q moved or disappeared before the action", idx, want.Label())
}

// decodeAction pulls the first JSON object out of a model reply.
func decodeAction(reply string) (map[string]any, error) {
	raw, ok := llm.ExtractJSON(reply)
	if !ok {
		return nil, fmt.Errorf("reply has no JSON action: %q", model.Truncate(reply, 80))
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return params, nil
}

// describeScreen lists elements a model can act on: anything labelled or
// clickable.
func describeScreen(els []model.Element) string {
	var keep []model.Element
	for _, el := range els {
		if el.Label() != "" || el.Clickable {
			keep = append(keep, el)
		}
	}
	if len(keep) == 0 {
		return "(空)\n"
	}
	return screen.Summarize(keep)
}

// markUnchanged flags the last step when it succeeded but left the screen
// as it was, so the model can try something else. Waits are exempt.
func markUnchanged(steps []StepResult, prev, curr []model.Element) {
	if len(steps) == 0 || prev == nil {
		return
	}
	last := &steps[len(steps)-1]
	if !last.OK || last.Action == "wait" {
		return
	}
	last.Unchanged = !model.DiffScreens(model.Normalize(prev), model.Normalize(curr)).Changed()
}

func describeSteps(steps []StepResult) string {
	if len(steps) == 0 {
		return "(无)\n"
	}
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "%d. %s %s", s.Step, s.Action, s.Detail)
		switch {
		case s.OK && s.Unchanged:
			b.WriteString(" 成功，但屏幕没有变化")
		case s.OK:
			b.WriteString(" 成功")
		default:
			fmt.Fprintf(&b, " 失败: %s", s.Error)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// resultParam returns "result" as text; structured results are re-encoded
// as JSON so the voice formatter can read them.
func resultParam(params map[string]any) string {
	switch v := params["result"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

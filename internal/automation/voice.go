package automation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mj1618/droid-order/internal/llm"
	"github.com/mj1618/droid-order/internal/model"
)

// maxSpokenMeals caps how many meals a spoken summary lists.
const maxSpokenMeals = 3

// DescribeMeals renders meals as one sentence to be read aloud.
func DescribeMeals(meals []model.MealCandidate) string {
	if len(meals) == 0 {
		return "没有找到相关的套餐"
	}
	parts := []string{fmt.Sprintf("找到%d个结果", len(meals))}
	for i, m := range meals {
		if i == maxSpokenMeals {
			break
		}
		name := m.Name
		if name == "" {
			name = "未知"
		}
		parts = append(parts, fmt.Sprintf("第%d个是%s，%s", i+1, name, m.Price))
	}
	return strings.Join(parts, "。")
}

// FormatForVoice turns a free-form agent's final report into a Result
// whose message can be spoken directly. Reports carrying JSON with meals
// or orders are summarized; anything else is passed through, truncated.
func FormatForVoice(success bool, reason string) model.Result {
	res := model.Result{Success: success}
	reason = strings.TrimSpace(reason)

	if raw, ok := llm.ExtractJSON(reason); ok && strings.HasPrefix(raw, "{") {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			res.Data = data
			switch {
			case data["meals"] != nil:
				res.Message = DescribeMeals(mealsFrom(data["meals"]))
			case data["orders"] != nil:
				if orders, ok := data["orders"].([]any); ok {
					res.Message = fmt.Sprintf("您有%d个订单", len(orders))
				}
			}
		}
	}
	if res.Message == "" && reason != "" {
		res.Message = model.Truncate(reason, model.MaxMessageRunes)
	}
	if res.Message == "" {
		if success {
			res.Message = "任务已完成"
		} else {
			res.Message = "任务执行失败，请重试"
		}
	}
	return res
}

// mealsFrom converts a decoded JSON meal list.
func mealsFrom(v any) []model.MealCandidate {
	items, _ := v.([]any)
	meals := make([]model.MealCandidate, 0, len(items))
	for i, it := range items {
		m, _ := it.(map[string]any)
		meal := model.MealCandidate{Rank: i}
		meal.Name, _ = m["name"].(string)
		meal.Price = fmt.Sprint(valueOr(m["price"], ""))
		meal.DeliveryTime, _ = m["delivery_time"].(string)
		meals = append(meals, meal)
	}
	return meals
}

func valueOr(v any, def any) any {
	if v == nil {
		return def
	}
	return v
}

package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/output"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/screen"
	"github.com/mj1618/droid-order/internal/service"
)

// screenshotOptions keeps get_screen images small enough for a chat turn.
var screenshotOptions = platform.ScreenshotOptions{Format: "jpg", Quality: 70, MaxWidth: 720}

func (s *Server) registerTools() {
	// search_meals
	s.mcp.AddTool(
		mcp.NewTool("search_meals",
			mcp.WithDescription("搜索美团拼好饭的餐品。流程：打开美团 → 进入拼好饭 → 搜索关键词 → 返回前3个套餐信息"),
			mcp.WithString("keyword", mcp.Required(), mcp.Description("搜索关键词，如\"牛肉面\"、\"包子\"、\"奶茶\"")),
			mcp.WithNumber("max_results", mcp.Description("最多返回的套餐数（默认 3）")),
		),
		s.taskHandler(service.KindSearch),
	)

	// place_order
	s.mcp.AddTool(
		mcp.NewTool("place_order",
			mcp.WithDescription("下单购买指定餐品（到支付页面，不自动支付）。需要先搜索。"),
			mcp.WithString("meal_name", mcp.Description("餐品名称或关键词")),
			mcp.WithNumber("meal_index", mcp.Description("上次搜索结果中的序号，从 0 开始（未给出名称时使用，默认 0）")),
		),
		s.taskHandler(service.KindPlaceOrder),
	)

	// confirm_payment
	s.mcp.AddTool(
		mcp.NewTool("confirm_payment",
			mcp.WithDescription("确认支付（点击支付按钮，必要时点击免密支付）"),
		),
		s.taskHandler(service.KindConfirmPayment),
	)

	// check_order_status
	s.mcp.AddTool(
		mcp.NewTool("check_order_status",
			mcp.WithDescription("查询最新订单的配送状态"),
		),
		s.taskHandler(service.KindOrderStatus),
	)

	// execute_task
	s.mcp.AddTool(
		mcp.NewTool("execute_task",
			mcp.WithDescription("执行自由任务 - 让 AI Agent 自主操作手机完成任务。适用于搜索、下单、查看历史订单、查看优惠券等任何美团 App 内的操作。"),
			mcp.WithString("task_description", mcp.Required(), mcp.Description("任务描述，用自然语言说明想做什么")),
		),
		s.taskHandler(service.KindFreeForm),
	)

	// get_screen
	s.mcp.AddTool(
		mcp.NewTool("get_screen",
			mcp.WithDescription("读取手机当前屏幕上的文本元素（只读，不打断正在执行的任务）"),
			mcp.WithString("text", mcp.Description("只返回包含该文本的元素")),
			mcp.WithNumber("max_elements", mcp.Description("最多返回的元素数（0 表示不限）")),
			mcp.WithBoolean("screenshot", mcp.Description("同时返回截图")),
		),
		s.handleGetScreen,
	)

	// notifications
	s.mcp.AddTool(
		mcp.NewTool("notifications",
			mcp.WithDescription("查看最近检测到的外卖送达通知"),
			mcp.WithBoolean("all", mcp.Description("直接读取手机上的全部通知，而不只是已匹配的送达通知")),
		),
		s.handleNotifications,
	)
}

// taskHandler submits a task of kind with the call's arguments. The
// Result is returned both as JSON text and as structured content; a
// failed Result marks the call as an error.
func (s *Server) taskHandler(kind service.Kind) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := s.tasks.SubmitTask(ctx, kind, request.GetArguments())
		s.cache.Invalidate()
		out := mcp.NewToolResultStructured(res, resultToText(res))
		out.IsError = !res.Success
		return out, nil
	}
}

// resultToText serializes a Result to JSON for the MCP response.
func resultToText(res model.Result) string {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"success": %v, "message": %q}`, res.Success, res.Message)
	}
	return string(b)
}

func (s *Server) handleGetScreen(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := request.GetArguments()
	text := model.StringParam(params, "text", "")
	maxElements := model.IntParam(params, "max_elements", 0)
	withShot := model.BoolParam(params, "screenshot", false)

	if !s.dev.Connect(ctx) {
		return mcp.NewToolResultError(service.MessageNotConnected), nil
	}
	snap, err := s.cache.Read(ctx, s.screen.Read)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	elements := snap.Elements
	if text != "" {
		elements = model.FilterByText(elements, text, false)
	}
	if maxElements > 0 && len(elements) > maxElements {
		elements = elements[:maxElements]
	}
	result := output.ScreenResult{Device: snap.Device, TS: time.Now().UnixMilli(), Elements: elements}
	summary := screen.Summarize(elements)
	if summary == "" {
		summary = "(屏幕上没有文本元素)"
	}

	out := mcp.NewToolResultStructured(result, summary)
	if withShot {
		data, err := s.dev.Screenshot(ctx, screenshotOptions)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("screenshot: %v", err)), nil
		}
		out.Content = append(out.Content, mcp.NewImageContent(base64.StdEncoding.EncodeToString(data), "image/jpeg"))
	}
	return out, nil
}

func (s *Server) handleNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if model.BoolParam(request.GetArguments(), "all", false) {
		notes, err := s.dev.Notifications(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result := output.NotificationsResult{TS: time.Now().UnixMilli(), Notifications: notes}
		return mcp.NewToolResultStructured(result, fmt.Sprintf("共 %d 条通知", len(notes))), nil
	}

	if s.events == nil {
		return mcp.NewToolResultError("通知监听未启用"), nil
	}
	events := s.events.Recent()
	msg := "没有新的送达通知"
	if n := len(events); n > 0 {
		last := events[n-1].Notification
		msg = fmt.Sprintf("最近 %d 条送达通知，最新一条: %s | %s", n, last.Title, last.Text)
	}
	return mcp.NewToolResultStructured(map[string]any{"events": events}, msg), nil
}

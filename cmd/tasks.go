package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/output"
	"github.com/mj1618/droid-order/internal/service"
)

// errTaskFailed makes the process exit non-zero after a failed task. The
// result itself has already been printed.
var errTaskFailed = errors.New("task failed")

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search group-buy meals and print the top results",
	Long: `Restart the delivery app, search the group-buy category for keyword and
print the extracted meals.

Examples:
  droid-order search 牛肉面
  droid-order search 麻辣烫 --max 5 --format json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

var orderCmd = &cobra.Command{
	Use:   "order [meal name]",
	Short: "Open a meal and stop on the payment page",
	Long: `Place an order up to the payment page without paying. The meal is either
named directly (matched by substring on the current results page) or
picked by --index from a fresh search for --keyword.

Examples:
  droid-order order 招牌牛肉面
  droid-order order --keyword 牛肉面 --index 1`,
	RunE: runOrder,
}

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Confirm payment on the payment page",
	Long: `Tap the payment button on the current payment page, accept the
passwordless confirmation if it appears, then close the app.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, service.KindConfirmPayment, nil)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the latest order's status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, service.KindOrderStatus, nil)
	},
}

var taskCmd = &cobra.Command{
	Use:   "task <description>",
	Short: "Let the LLM agent carry out a free-form task in the app",
	Long: `Drive the app step by step with the configured LLM until the task is done
or the step limit is reached. Requires llm.api_key.

Examples:
  droid-order task "打开我的订单，看看最近一单是什么"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTask(cmd, service.KindFreeForm, map[string]any{
			"task_description": strings.Join(args, " "),
		})
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, orderCmd, payCmd, statusCmd, taskCmd)
	searchCmd.Flags().Int("max", 0, "Maximum meals to return (default extract.max_results)")
	orderCmd.Flags().String("keyword", "", "Search for this keyword first and pick by --index")
	orderCmd.Flags().Int("index", 0, "0-based position in the search results (with --keyword)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	params := map[string]any{"keyword": strings.Join(args, " ")}
	if k, _ := cmd.Flags().GetInt("max"); k > 0 {
		params["max_results"] = k
	}
	return runTask(cmd, service.KindSearch, params)
}

func runOrder(cmd *cobra.Command, args []string) error {
	keyword, _ := cmd.Flags().GetString("keyword")
	index, _ := cmd.Flags().GetInt("index")
	name := strings.Join(args, " ")
	if name == "" && keyword == "" {
		return errors.New("give a meal name or --keyword")
	}
	if name != "" {
		return runTask(cmd, service.KindPlaceOrder, map[string]any{"meal_name": name})
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	res := a.service.SubmitTask(ctx, service.KindSearch, map[string]any{"keyword": keyword})
	if !res.Success {
		return printResult(res)
	}
	res = a.service.SubmitTask(ctx, service.KindPlaceOrder, map[string]any{"meal_index": index})
	return printResult(res)
}

// runTask runs one task against a fresh service graph and prints its result.
func runTask(cmd *cobra.Command, kind service.Kind, params map[string]any) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()
	return printResult(a.service.SubmitTask(ctx, kind, params))
}

func printResult(res model.Result) error {
	if err := output.Print(res); err != nil {
		return fmt.Errorf("print result: %w", err)
	}
	if !res.Success {
		return errTaskFailed
	}
	return nil
}

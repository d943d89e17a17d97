package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mj1618/droid-order/internal/model"
	"github.com/mj1618/droid-order/internal/output"
	"github.com/mj1618/droid-order/internal/platform"
	"github.com/mj1618/droid-order/internal/platform/adb"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the devices adb knows about",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Print device notifications",
	Long: `Print the notifications currently posted on the device. With --match only
the ones containing a configured delivery keyword are printed. With
--test-webhook a synthetic delivery notification is sent to the configured
webhooks instead.

Examples:
  droid-order notifications
  droid-order notifications --match
  droid-order notifications --test-webhook`,
	Args: cobra.NoArgs,
	RunE: runNotifications,
}

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Tap an element or a point",
	Long: `Tap an element by traversal index (from "screen"), by text, or an
absolute point.

Examples:
  droid-order tap --index 12
  droid-order tap --text 我知道了
  droid-order tap --x 540 --y 1200`,
	Args: cobra.NoArgs,
	RunE: runTap,
}

var typeCmd = &cobra.Command{
	Use:   "type <text>",
	Short: "Type text into the focused field or an element",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runType,
}

var pressCmd = &cobra.Command{
	Use:   "press <key>",
	Short: "Press back, home or enter",
	Args:  cobra.ExactArgs(1),
	RunE:  runPress,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Force-stop the delivery app",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(devicesCmd, notificationsCmd, tapCmd, typeCmd, pressCmd, stopCmd)
	notificationsCmd.Flags().Bool("match", false, "Only notifications matching a delivery keyword")
	notificationsCmd.Flags().Bool("test-webhook", false, "Send a test notification to the configured webhooks")

	tapCmd.Flags().Int("index", -1, "Element traversal index")
	tapCmd.Flags().String("text", "", "Tap the first element containing this text")
	tapCmd.Flags().Bool("exact", false, "Require an exact text match with --text")
	tapCmd.Flags().Int("x", -1, "X coordinate")
	tapCmd.Flags().Int("y", -1, "Y coordinate")

	typeCmd.Flags().Int("index", -1, "Tap this element first to focus it")
	typeCmd.Flags().Bool("clear", false, "Clear the field before typing")
}

func runDevices(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	conn, ok := a.provider.Connector.(*adb.Connector)
	if !ok {
		return errors.New("device listing needs the adb backend")
	}
	devices, err := conn.Devices(ctx)
	if err != nil {
		return err
	}
	return output.Print(map[string]any{"devices": devices})
}

func runNotifications(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if test, _ := cmd.Flags().GetBool("test-webhook"); test {
		n := model.Notification{
			Package: a.cfg.Device.AppPackage,
			Title:   "测试通知",
			Text:    "您的外卖已送达，请及时取餐",
			When:    time.Now().UnixMilli(),
		}
		if err := a.poller.Test(ctx, n); err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "test notification delivered")
		return nil
	}

	if match, _ := cmd.Flags().GetBool("match"); match {
		// Deliveries go nowhere; this is a dry run of the keyword match.
		a.poller.SetSinks()
		events, err := a.poller.Poll(ctx)
		if err != nil {
			return err
		}
		return output.Print(map[string]any{"ts": time.Now().UnixMilli(), "events": events})
	}

	notes, err := a.session.Notifications(ctx)
	if err != nil {
		return err
	}
	return output.Print(output.NotificationsResult{TS: time.Now().UnixMilli(), Notifications: notes})
}

func runTap(cmd *cobra.Command, args []string) error {
	index, _ := cmd.Flags().GetInt("index")
	text, _ := cmd.Flags().GetString("text")
	exact, _ := cmd.Flags().GetBool("exact")
	x, _ := cmd.Flags().GetInt("x")
	y, _ := cmd.Flags().GetInt("y")
	if index < 0 && text == "" && (x < 0 || y < 0) {
		return errors.New("give --index, --text, or both --x and --y")
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if index < 0 && text == "" {
		return a.session.TapPoint(ctx, x, y)
	}
	els, err := a.session.ReadElements(ctx)
	if err != nil {
		return err
	}
	if index >= 0 {
		return a.session.TapIndex(ctx, index)
	}
	el, ok := model.FindByText(model.Normalize(els), text, exact)
	if !ok {
		return fmt.Errorf("no element with text %q", text)
	}
	return a.session.TapElement(ctx, el)
}

func runType(cmd *cobra.Command, args []string) error {
	index, _ := cmd.Flags().GetInt("index")
	clearField, _ := cmd.Flags().GetBool("clear")

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	if index >= 0 {
		if _, err := a.session.ReadElements(ctx); err != nil {
			return err
		}
	}
	return a.session.TypeText(ctx, strings.Join(args, " "), index, clearField)
}

func runPress(cmd *cobra.Command, args []string) error {
	key, err := platform.ParseKey(args[0])
	if err != nil {
		return err
	}
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()
	return a.session.Press(ctx, key)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a.session.ForceStop(ctx, a.cfg.Device.AppPackage)
	if n := a.session.Stats.Count("force_stop"); n > 0 {
		return fmt.Errorf("force-stop %s failed", a.cfg.Device.AppPackage)
	}
	return nil
}

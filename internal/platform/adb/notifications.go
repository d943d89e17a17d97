package adb

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/mj1618/droid-order/internal/model"
)

var (
	pkgRe    = regexp.MustCompile(`pkg=(\S+)`)
	keyRe    = regexp.MustCompile(`key=([^\s:]+)`)
	whenRe   = regexp.MustCompile(`when=(\d+)`)
	titleRe  = regexp.MustCompile(`android\.title=String \(([^)]*)\)`)
	textRe   = regexp.MustCompile(`android\.text=String \(([^)]*)\)`)
	tickerRe = regexp.MustCompile(`tickerText=([^\n]+)`)
)

// NotificationReader reads posted notifications with dumpsys. It never
// touches the UI, so it can poll while automation is driving the screen.
type NotificationReader struct {
	r *Runner
}

// NewNotificationReader creates a new NotificationReader.
func NewNotificationReader(r *Runner) *NotificationReader {
	return &NotificationReader{r: r}
}

// Notifications implements platform.NotificationSource.
func (n *NotificationReader) Notifications(ctx context.Context) ([]model.Notification, error) {
	out, err := n.r.Shell(ctx, "dumpsys notification --noredact")
	if err != nil {
		return nil, err
	}
	return ParseDumpsys(out), nil
}

// ParseDumpsys extracts the records of the "Notification List:" section of
// "dumpsys notification" output. Records without a package are skipped.
func ParseDumpsys(out string) []model.Notification {
	section := notificationList(out)
	if section == "" {
		return nil
	}
	var notes []model.Notification
	for _, record := range strings.Split(section, "NotificationRecord(")[1:] {
		pkg := firstGroup(pkgRe, record)
		if pkg == "" {
			continue
		}
		note := model.Notification{
			Package: pkg,
			Key:     firstGroup(keyRe, record),
			Title:   firstGroup(titleRe, record),
			Text:    firstGroup(textRe, record),
		}
		note.When, _ = strconv.ParseInt(firstGroup(whenRe, record), 10, 64)
		if note.Title == "" {
			note.Title = strings.TrimSpace(firstGroup(tickerRe, record))
		}
		notes = append(notes, note)
	}
	return notes
}

// notificationList returns the body of the "Notification List:" section,
// which ends at the next line indented by exactly two spaces.
func notificationList(out string) string {
	_, body, ok := strings.Cut(out, "Notification List:")
	if !ok {
		return ""
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if len(line) > 2 && strings.HasPrefix(line, "  ") && line[2] != ' ' {
			return strings.Join(lines[:i], "\n")
		}
	}
	return body
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

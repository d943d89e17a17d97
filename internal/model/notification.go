package model

import (
	"fmt"
	"time"
)

// Notification is one record from the device notification store.
type Notification struct {
	Package string `yaml:"package"       json:"package"`
	Title   string `yaml:"title"         json:"title"`
	Text    string `yaml:"text"          json:"text"`
	When    int64  `yaml:"when"          json:"when"` // epoch millis as reported by the device
	Key     string `yaml:"key,omitempty" json:"key,omitempty"`
}

// DedupKey identifies the notification across polls: the system key when
// the device reports one, otherwise package, post time, and a text prefix.
func (n Notification) DedupKey() string {
	if n.Key != "" {
		return n.Key
	}
	text := []rune(n.Text)
	if len(text) > 30 {
		text = text[:30]
	}
	return fmt.Sprintf("%s:%d:%s", n.Package, n.When, string(text))
}

// PostedAt converts When to a time.
func (n Notification) PostedAt() time.Time {
	return time.UnixMilli(n.When)
}

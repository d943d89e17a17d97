package model

import "unicode/utf8"

// Result is the structured outcome of one submitted task. Every code path
// behind the task-submission boundary converges to this shape.
type Result struct {
	Success bool           `yaml:"success"        json:"success"`
	Message string         `yaml:"message"        json:"message"`
	Data    map[string]any `yaml:"data,omitempty" json:"data"`
}

// MaxMessageRunes bounds diagnostic messages handed back to callers. Results
// are usually read aloud, so long stack-like errors are cut.
const MaxMessageRunes = 200

// OK builds a successful result.
func OK(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: data}
}

// Fail builds a failed result with a truncated message.
func Fail(message string) Result {
	return Result{Success: false, Message: Truncate(message, MaxMessageRunes)}
}

// Truncate cuts s to at most n runes, appending "..." when it was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the first balanced span in s that is a valid JSON
// array or object. Models often wrap JSON in prose or code fences, and the
// prose may itself contain brackets; such spans are skipped. Brackets
// inside string literals are ignored. The second result is false when no
// valid value exists.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	for start >= 0 {
		if end := matchBracket(s, start); end > 0 && json.Valid([]byte(s[start:end+1])) {
			return s[start : end+1], true
		}
		next := strings.IndexAny(s[start+1:], "[{")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBracket returns the index of the bracket closing the one at start,
// or -1 if it is never closed.
func matchBracket(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, ch)
		case ']', '}':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '[' && ch != ']') || (open == '{' && ch != '}') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

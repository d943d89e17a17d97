package model

import "fmt"

// Parameter extraction helpers for decoded JSON argument maps. Numbers
// decode as float64; the helpers accept that and the native Go types.

// StringParam returns params[key] as a string, formatting non-strings.
func StringParam(params map[string]any, key, defaultVal string) string {
	if v, ok := params[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return defaultVal
}

// IntParam returns params[key] as an int.
func IntParam(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// BoolParam returns params[key] as a bool.
func BoolParam(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// HasParam reports whether key is present and not null.
func HasParam(params map[string]any, key string) bool {
	v, ok := params[key]
	return ok && v != nil
}

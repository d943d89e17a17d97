package model

import "strings"

// RoleMap maps Android widget class names to compact role codes.
var RoleMap = map[string]string{
	"android.widget.Button":                     "btn",
	"android.widget.ImageButton":                "btn",
	"android.widget.TextView":                   "txt",
	"android.widget.CheckedTextView":            "txt",
	"android.widget.ImageView":                  "img",
	"android.widget.EditText":                   "input",
	"android.widget.AutoCompleteTextView":       "input",
	"android.widget.CheckBox":                   "chk",
	"android.widget.Switch":                     "toggle",
	"android.widget.ToggleButton":               "toggle",
	"android.widget.RadioButton":                "radio",
	"android.widget.ListView":                   "list",
	"android.widget.GridView":                   "list",
	"androidx.recyclerview.widget.RecyclerView": "list",
	"android.widget.ScrollView":                 "scroll",
	"android.widget.HorizontalScrollView":       "scroll",
	"android.widget.FrameLayout":                "group",
	"android.widget.LinearLayout":               "group",
	"android.widget.RelativeLayout":             "group",
	"android.view.ViewGroup":                    "group",
	"android.view.View":                         "view",
	"android.webkit.WebView":                    "web",
}

// MetaRoles maps meta-role names to the concrete roles they expand to.
var MetaRoles = map[string][]string{
	"interactive": {"btn", "input", "chk", "toggle", "radio"},
}

// ExpandRoles expands any meta-roles in the given list to their concrete roles.
// Non-meta roles are passed through unchanged. Duplicates are removed.
func ExpandRoles(roles []string) []string {
	seen := make(map[string]bool, len(roles))
	var expanded []string
	for _, r := range roles {
		if concrete, ok := MetaRoles[r]; ok {
			for _, c := range concrete {
				if !seen[c] {
					seen[c] = true
					expanded = append(expanded, c)
				}
			}
		} else if !seen[r] {
			seen[r] = true
			expanded = append(expanded, r)
		}
	}
	return expanded
}

// MapRole converts an Android class name to a compact code. Unknown classes
// fall back on a suffix match so vendor subclasses ("...AppCompatTextView")
// still map to the closest stock widget.
func MapRole(class string) string {
	if short, ok := RoleMap[class]; ok {
		return short
	}
	switch {
	case strings.HasSuffix(class, "EditText"):
		return "input"
	case strings.HasSuffix(class, "Button"):
		return "btn"
	case strings.HasSuffix(class, "TextView"):
		return "txt"
	case strings.HasSuffix(class, "ImageView"):
		return "img"
	}
	return "other"
}

package common

import (
	"encoding/json"
	"strings"
	"unicode"

	cdpa "github.com/chromedp/cdproto/accessibility"
)

// normalizeWhitespace trims s and collapses inner whitespace runs into
// single spaces, the way accessible names are compared.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// matchesName reports whether an element's accessible name satisfies a
// name filter. An empty filter matches anything. Without exact, the filter
// is a case-insensitive substring; with exact, the whole name must equal
// it. Both sides are whitespace normalized.
func matchesName(accessibleName, filter string, exact bool) bool {
	if filter == "" {
		return true
	}
	name := normalizeWhitespace(accessibleName)
	filter = normalizeWhitespace(filter)
	if exact {
		return name == filter
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(filter))
}

// axString returns the string held by an accessibility value.
func axString(v *cdpa.Value) string {
	if v == nil || len(v.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err != nil {
		return string(v.Value)
	}
	return s
}

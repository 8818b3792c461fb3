// Package js holds the JavaScript evaluated in pages.
package js

import (
	_ "embed"
)

// IsVisibleFunction is called with this bound to an element and reports
// whether it has a non-empty bounding box and a computed visibility other
// than hidden or collapse.
//
//go:embed is_visible.js
var IsVisibleFunction string

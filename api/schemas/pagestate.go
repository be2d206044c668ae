package schemas

import "time"

// -- Page State Models --
// These types represent the harness's current understanding of the
// application under test. A PageContext is produced fresh on every
// evaluation and is never mutated afterwards.

// PageType classifies what kind of page the application is currently showing.
type PageType string

const (
	// PageTypeLogin means a login affordance (username/password form) is present.
	PageTypeLogin PageType = "LOGIN"
	// PageTypeMainCanvas means the flow canvas page is reachable.
	PageTypeMainCanvas PageType = "MAIN_CANVAS"
	// PageTypeUnknown means no decisive signal was observed. This is the
	// recovery value for ambiguous classification, never a hard error.
	PageTypeUnknown PageType = "UNKNOWN"
)

// PageContext is an immutable snapshot of the observed application state.
//
// Invariants maintained by the classifier/evaluator:
//   - Authenticated implies PageType != LOGIN.
//   - Ready implies PageType != UNKNOWN.
type PageContext struct {
	URL      string   `json:"url"`
	Pathname string   `json:"pathname"`
	Title    string   `json:"title"`
	PageType PageType `json:"page_type"`

	// Authenticated is true only when the page is the main canvas AND an
	// authenticated-only affordance (logout link, user menu) is visible.
	// Open-access canvases are reachable but NOT authenticated.
	Authenticated bool `json:"authenticated"`

	// Ready is true when the page type is resolved and, for the main
	// canvas, its authentication-dependent chrome (toolbar + canvas
	// graphic) is present.
	Ready bool `json:"ready"`

	// Indicators holds matched textual markers. Diagnostic only, the
	// classifier never bases a decision on them.
	Indicators []string `json:"indicators,omitempty"`

	// Elements maps each probed selector to its presence on the page.
	Elements map[string]bool `json:"elements,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

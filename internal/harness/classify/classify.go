// Package classify turns a collected signal map into a page type and the
// derived readiness/authentication flags. Both functions are pure: the same
// inputs always produce the same outputs.
package classify

import (
	"github.com/cuioss/nifi-uiharness/api/schemas"
	"github.com/cuioss/nifi-uiharness/internal/harness/signals"
)

// Classify decides the page type from the signal map. The priority order is
// fixed and first-match-wins:
//
//  1. any login-field signal    -> LOGIN
//  2. any canvas/toolbar signal -> MAIN_CANVAS
//  3. otherwise                 -> UNKNOWN
//
// Login affordances dominate because they are the least ambiguous signal:
// stale canvas markup can linger in the DOM while the app transitions to the
// login screen, and an ambiguous double-match must not flip-flop the result.
func Classify(m signals.SignalMap) schemas.PageType {
	switch {
	case m.Any(signals.GroupLoginFields):
		return schemas.PageTypeLogin
	case m.Any(signals.GroupCanvas) || m.Any(signals.GroupToolbar):
		return schemas.PageTypeMainCanvas
	default:
		return schemas.PageTypeUnknown
	}
}

// Evaluate derives the authentication and readiness flags for a classified
// page.
//
// Authenticated requires the main canvas plus an authenticated-only
// affordance. An open-access deployment can reach the canvas without logging
// in; such a page is reachable but NOT authenticated, so the flag stays
// false there. Readiness and authentication are orthogonal.
//
// Ready requires a resolved page type and, on the main canvas, both the
// toolbar and the canvas graphic: a canvas without its toolbar is not yet
// safe to interact with.
func Evaluate(pageType schemas.PageType, m signals.SignalMap) (authenticated, ready bool) {
	authenticated = pageType == schemas.PageTypeMainCanvas && m.Any(signals.GroupAuthenticated)

	switch pageType {
	case schemas.PageTypeUnknown:
		ready = false
	case schemas.PageTypeMainCanvas:
		ready = m.Any(signals.GroupToolbar) && m.Any(signals.GroupCanvas)
	default:
		ready = true
	}
	return authenticated, ready
}

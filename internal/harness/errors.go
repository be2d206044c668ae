package harness

import (
	"fmt"
	"time"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// PageStateTimeoutError means the target page type was not reached within
// the per-wait timeout. It always carries the last observed PageContext so a
// failing test reports what the page actually looked like, never just
// "timed out".
type PageStateTimeoutError struct {
	Target      schemas.PageType
	WaitedFor   time.Duration
	LastContext schemas.PageContext
}

func (e *PageStateTimeoutError) Error() string {
	return fmt.Sprintf("page did not reach state %s within %s (last observed: %s, ready=%t, url=%s)",
		e.Target, e.WaitedFor, e.LastContext.PageType, e.LastContext.Ready, e.LastContext.URL)
}

// PageTypeMismatchError is returned by VerifyPageType when the current page
// is not the expected one.
type PageTypeMismatchError struct {
	Expected schemas.PageType
	Actual   schemas.PageType
	Context  schemas.PageContext
}

func (e *PageTypeMismatchError) Error() string {
	return fmt.Sprintf("expected page state %s but observed %s (url=%s, title=%q)",
		e.Expected, e.Actual, e.Context.URL, e.Context.Title)
}

// LoginError wraps a failed login round-trip. The underlying collaborator
// error is preserved unmasked via Unwrap.
type LoginError struct {
	Identity string
	Err      error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login for identity %q failed: %v", e.Identity, e.Err)
}

func (e *LoginError) Unwrap() error { return e.Err }

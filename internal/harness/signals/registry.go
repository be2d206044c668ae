// Package signals evaluates a fixed registry of DOM probes against a page
// snapshot. It is the only component that knows which selectors mean what;
// everything downstream reasons over the resulting SignalMap.
package signals

import (
	"sort"

	"github.com/cuioss/nifi-uiharness/internal/config"
)

// Group names a family of selectors that are probed together. Classification
// decisions are made per group, never per individual selector.
type Group string

const (
	// GroupLoginFields matches the login form affordances.
	GroupLoginFields Group = "login_fields"
	// GroupCanvas matches the flow canvas and its graphics containers.
	GroupCanvas Group = "canvas"
	// GroupToolbar matches the canvas toolbar.
	GroupToolbar Group = "toolbar"
	// GroupAuthenticated matches affordances only visible to a logged-in
	// user (logout link, user menu).
	GroupAuthenticated Group = "authenticated"
	// GroupLoading matches generic "application still bootstrapping" markers.
	GroupLoading Group = "loading"
)

// DefaultRegistryVersion identifies the built-in selector set. Bump this
// whenever the target application's DOM structure changes.
const DefaultRegistryVersion = "nifi-2.x/1"

// defaultSelectors is the built-in probe set for the NiFi canvas UI.
// These are data, not code: config.SelectorsConfig can override any group.
var defaultSelectors = map[Group][]string{
	GroupLoginFields: {
		`input#username`,
		`input#password`,
		`input[type="password"]`,
		`[data-testid="login-form"]`,
	},
	GroupCanvas: {
		`#canvas-container`,
		`#canvas`,
		`[data-testid="canvas"]`,
	},
	GroupToolbar: {
		`#toolbar`,
		`.new-canvas-item`,
		`[data-testid="toolbar"]`,
	},
	GroupAuthenticated: {
		`#logout-link`,
		`#current-user`,
		`[data-testid="logout"]`,
	},
	GroupLoading: {
		`#splash`,
		`[data-testid="app-loading"]`,
	},
}

// defaultIndicators are textual markers probed against the document text.
// They are diagnostic only and never decision-bearing.
var defaultIndicators = []string{
	"Log In",
	"Loading",
	"NiFi Flow",
	"Unauthorized",
	"Insufficient Permissions",
}

// Registry is the versioned probe configuration used by the Collector.
type Registry struct {
	Version    string
	Selectors  map[Group][]string
	Indicators []string
}

// NewRegistry builds a registry from the built-in defaults plus any
// configured overrides. An override replaces the whole group.
func NewRegistry(cfg config.SelectorsConfig) Registry {
	reg := Registry{
		Version:    DefaultRegistryVersion,
		Selectors:  make(map[Group][]string, len(defaultSelectors)),
		Indicators: append([]string(nil), defaultIndicators...),
	}
	for group, sels := range defaultSelectors {
		reg.Selectors[group] = append([]string(nil), sels...)
	}

	if cfg.Version != "" {
		reg.Version = cfg.Version
	}
	for name, sels := range cfg.Overrides {
		if len(sels) == 0 {
			continue
		}
		reg.Selectors[Group(name)] = append([]string(nil), sels...)
	}
	return reg
}

// AllSelectors returns every registered selector in deterministic order.
func (r Registry) AllSelectors() []string {
	var out []string
	for _, sels := range r.Selectors {
		out = append(out, sels...)
	}
	sort.Strings(out)
	return out
}

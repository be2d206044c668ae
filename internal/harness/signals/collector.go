package signals

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// SignalMap is the result of one collection pass over a DOM snapshot.
type SignalMap struct {
	// Elements maps every probed selector to its presence (and visibility).
	Elements map[string]bool
	// Groups records whether at least one selector of the group matched.
	Groups map[Group]bool
	// Indicators lists the matched textual markers.
	Indicators []string
	// Title is the document title as seen in the snapshot.
	Title string
}

// Any reports whether any selector in the group matched.
func (m SignalMap) Any(g Group) bool {
	return m.Groups[g]
}

// Collector evaluates the selector registry against DOM snapshots.
// It never mutates the DOM and tolerates absent selectors.
type Collector struct {
	registry Registry
	logger   *zap.Logger
}

// NewCollector creates a collector for the given registry.
func NewCollector(registry Registry, logger *zap.Logger) *Collector {
	return &Collector{
		registry: registry,
		logger:   logger.Named("signals"),
	}
}

// Registry returns the probe configuration in use.
func (c *Collector) Registry() Registry {
	return c.registry
}

// Collect parses the snapshot and probes every registered selector and
// textual indicator. A selector that does not parse or does not match simply
// yields false.
func (c *Collector) Collect(snapshot string) (SignalMap, error) {
	m := SignalMap{
		Elements: make(map[string]bool),
		Groups:   make(map[Group]bool),
	}

	root, err := html.Parse(strings.NewReader(snapshot))
	if err != nil {
		return m, fmt.Errorf("failed to parse DOM snapshot: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	for group, selectors := range c.registry.Selectors {
		for _, selector := range selectors {
			present := c.probeSelector(doc, selector)
			m.Elements[selector] = present
			if present {
				m.Groups[group] = true
			}
		}
	}

	if titleNode := htmlquery.FindOne(root, "//title"); titleNode != nil {
		m.Title = strings.TrimSpace(htmlquery.InnerText(titleNode))
	}

	bodyText := ""
	if bodyNode := htmlquery.FindOne(root, "//body"); bodyNode != nil {
		bodyText = htmlquery.InnerText(bodyNode)
	}
	for _, marker := range c.registry.Indicators {
		if strings.Contains(bodyText, marker) {
			m.Indicators = append(m.Indicators, marker)
		}
	}

	return m, nil
}

// probeSelector reports whether the selector matches at least one visible
// element. Invalid selectors are logged once and treated as absent.
func (c *Collector) probeSelector(doc *goquery.Document, selector string) bool {
	defer func() {
		// goquery panics on selectors cascadia cannot compile. An
		// unparseable probe must degrade to "absent", not crash a test.
		if r := recover(); r != nil {
			c.logger.Warn("Skipping unparseable selector", zap.String("selector", selector), zap.Any("reason", r))
		}
	}()

	found := false
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if isHidden(sel) {
			return true // keep looking
		}
		found = true
		return false
	})
	return found
}

// isHidden approximates visibility from the static snapshot: inline
// display/visibility styles, the hidden attribute and aria-hidden.
func isHidden(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	if v, ok := sel.Attr("aria-hidden"); ok && v == "true" {
		return true
	}
	if style, ok := sel.Attr("style"); ok {
		compact := strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(compact, "display:none") || strings.Contains(compact, "visibility:hidden") {
			return true
		}
	}
	return false
}

// Package harness is the state classification and session-caching engine
// every test step depends on to know "where am I and can I act now". It
// polls the browser driver, classifies the observed DOM, caches login
// sessions and enforces per-test time budgets.
package harness

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/deadline"
	"github.com/cuioss/nifi-uiharness/internal/harness/classify"
	"github.com/cuioss/nifi-uiharness/internal/harness/signals"
	"github.com/cuioss/nifi-uiharness/internal/session"
)

// Recorder persists produced page contexts for later flakiness analysis.
// A nil recorder disables persistence entirely.
type Recorder interface {
	RecordObservation(ctx context.Context, runID string, pc schemas.PageContext) error
}

// Harness ties the collector, classifier, session cache and deadline guard
// together behind the API test bodies use. One harness serves exactly one
// sequential test worker; it is not safe for concurrent use, matching the
// single-test-at-a-time execution model of the shared application instance.
type Harness struct {
	cfg       *config.Config
	driver    schemas.Driver
	collector *signals.Collector
	sessions  *session.Cache
	deadlines *deadline.Guard
	recorder  Recorder
	logger    *zap.Logger

	runID      string
	activeTest string
	now        func() time.Time
}

// Option customizes a Harness.
type Option func(*Harness)

// WithRecorder attaches an observation recorder.
func WithRecorder(r Recorder) Option {
	return func(h *Harness) { h.recorder = r }
}

// WithCollector replaces the default collector, e.g. with one built from a
// custom selector registry.
func WithCollector(c *signals.Collector) Option {
	return func(h *Harness) { h.collector = c }
}

// New creates a harness for the given driver.
func New(cfg *config.Config, driver schemas.Driver, logger *zap.Logger, opts ...Option) *Harness {
	h := &Harness{
		cfg:    cfg,
		driver: driver,
		logger: logger.Named("harness"),
		runID:  uuid.New().String(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.collector == nil {
		h.collector = signals.NewCollector(signals.NewRegistry(cfg.Selectors), h.logger)
	}
	h.deadlines = deadline.New(h.logger)
	h.sessions = session.New(driver, &driverAuthenticator{h: h}, h.probeSession, cfg.Harness.SessionTTL, h.logger)

	h.logger.Info("Harness initialized",
		zap.String("run_id", h.runID),
		zap.String("selector_registry", h.collector.Registry().Version),
		zap.Bool("open_access", cfg.Harness.OpenAccess),
	)
	return h
}

// RunID identifies this harness instance in recorded observations.
func (h *Harness) RunID() string { return h.runID }

// RegistryVersion names the selector set classification runs against.
func (h *Harness) RegistryVersion() string { return h.collector.Registry().Version }

// GetPageContext performs one full collect/classify/evaluate pass and
// returns a fresh immutable snapshot of the observed state.
func (h *Harness) GetPageContext(ctx context.Context) (schemas.PageContext, error) {
	snapshot, err := h.driver.DOMSnapshot(ctx)
	if err != nil {
		return schemas.PageContext{}, fmt.Errorf("failed to capture DOM snapshot: %w", err)
	}

	loc, err := h.driver.CurrentLocation(ctx)
	if err != nil {
		return schemas.PageContext{}, fmt.Errorf("failed to read current location: %w", err)
	}

	m, err := h.collector.Collect(snapshot)
	if err != nil {
		return schemas.PageContext{}, fmt.Errorf("signal collection failed: %w", err)
	}

	pageType := classify.Classify(m)
	authenticated, ready := classify.Evaluate(pageType, m)

	title := loc.Title
	if title == "" {
		title = m.Title
	}

	pc := schemas.PageContext{
		URL:           loc.URL,
		Pathname:      pathOf(loc),
		Title:         title,
		PageType:      pageType,
		Authenticated: authenticated,
		Ready:         ready,
		Indicators:    m.Indicators,
		Elements:      m.Elements,
		ObservedAt:    h.now(),
	}

	if h.recorder != nil {
		// Observation persistence must never fail a test step.
		if err := h.recorder.RecordObservation(ctx, h.runID, pc); err != nil {
			h.logger.Warn("Failed to record page observation", zap.Error(err))
		}
	}

	h.logger.Debug("Page context evaluated",
		zap.String("page_type", string(pc.PageType)),
		zap.Bool("authenticated", pc.Authenticated),
		zap.Bool("ready", pc.Ready),
		zap.String("url", pc.URL),
	)
	return pc, nil
}

// VerifyPageType asserts the current page type without polling. A mismatch
// is returned as a PageTypeMismatchError carrying the observed context.
func (h *Harness) VerifyPageType(ctx context.Context, expected schemas.PageType) (schemas.PageContext, error) {
	pc, err := h.GetPageContext(ctx)
	if err != nil {
		return pc, err
	}
	if pc.PageType != expected {
		return pc, &PageTypeMismatchError{Expected: expected, Actual: pc.PageType, Context: pc}
	}
	return pc, nil
}

// NavigateToPage navigates the driver to the given path and waits until the
// target page type is reached.
func (h *Harness) NavigateToPage(ctx context.Context, path string, target schemas.PageType, opts WaitOptions) (schemas.PageContext, error) {
	if err := h.driver.Navigate(ctx, path); err != nil {
		return schemas.PageContext{}, fmt.Errorf("navigation to %q failed: %w", path, err)
	}
	return h.WaitForPageType(ctx, target, opts)
}

// RetrieveSession returns a usable session for the identity, reusing the
// cache when allowed by the options.
func (h *Harness) RetrieveSession(ctx context.Context, identity, proof string, opts session.Options) (*session.Record, error) {
	return h.sessions.Retrieve(ctx, identity, proof, opts)
}

// ClearSession invalidates the cached record and wipes browser artifacts so
// the next evaluation starts from the login page.
func (h *Harness) ClearSession(ctx context.Context) error {
	return h.sessions.Clear(ctx)
}

// StartTestTimer begins the cumulative budget for a test. A zero budget
// uses the configured default.
func (h *Harness) StartTestTimer(testID string, budget time.Duration) {
	if budget <= 0 {
		budget = h.cfg.Harness.TestBudget
	}
	h.activeTest = testID
	h.deadlines.Start(testID, budget)
}

// CheckTestTimer fails with a deadline.DeadlineExceededError once the
// active test's budget is exhausted.
func (h *Harness) CheckTestTimer() error {
	if h.activeTest == "" {
		return nil
	}
	return h.deadlines.Check(h.activeTest)
}

// EndTestTimer releases the active test's budget tracking. Cleanup hooks
// must still run after a deadline breach, so this never fails.
func (h *Harness) EndTestTimer() {
	if h.activeTest == "" {
		return
	}
	h.deadlines.End(h.activeTest)
	h.activeTest = ""
}

// probeSession is the cheap liveness check used by session revalidation:
// the session is dead when the application bounced us back to the login
// page.
func (h *Harness) probeSession(ctx context.Context) error {
	pc, err := h.GetPageContext(ctx)
	if err != nil {
		return err
	}
	if pc.PageType == schemas.PageTypeLogin {
		return fmt.Errorf("session probe: redirected to login page (url=%s)", pc.URL)
	}
	return nil
}

func pathOf(loc schemas.Location) string {
	if loc.Path != "" {
		return loc.Path
	}
	if u, err := url.Parse(loc.URL); err == nil {
		return u.Path
	}
	return ""
}

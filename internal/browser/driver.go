package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// Login form probes. The canvas UI renders its credential form with stable
// ids, so these are fixed rather than registry-driven.
const (
	usernameSelector    = `input#username`
	passwordSelector    = `input#password`
	loginSubmitSelector = `button[type="submit"], input[type="submit"]`
)

// Driver operates one browser tab and implements schemas.Driver.
type Driver struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	mgr    *Manager
	logger *zap.Logger

	baseURL    *url.URL
	navTimeout time.Duration
}

var _ schemas.Driver = (*Driver)(nil)

func newDriver(ctx context.Context, cancel context.CancelFunc, mgr *Manager, id string) *Driver {
	base, err := url.Parse(mgr.cfg.Harness.BaseURL)
	if err != nil {
		// Validate() rejects unparseable base URLs before a driver exists.
		base = &url.URL{}
	}
	return &Driver{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		mgr:        mgr,
		logger:     mgr.logger.Named("driver").With(zap.String("driver_id", id)),
		baseURL:    base,
		navTimeout: mgr.cfg.Browser.NavigationTimeout,
	}
}

// Close releases the tab. Safe to call more than once.
func (d *Driver) Close(ctx context.Context) error {
	d.mgr.unregisterDriver(d.id)
	d.cancel()
	return nil
}

// run executes the actions on the tab, bounded by the navigation timeout.
// Caller cancellation is honored at entry; mid-action aborts come from the
// timeout or from tab teardown.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx := d.ctx
	if d.navTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.navTimeout)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// DOMSnapshot returns the serialized document as currently rendered.
func (d *Driver) DOMSnapshot(ctx context.Context) (string, error) {
	var dom string
	if err := d.run(ctx, chromedp.OuterHTML("html", &dom, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture DOM snapshot: %w", err)
	}
	return dom, nil
}

// CurrentLocation reports the tab's URL, pathname and document title.
func (d *Driver) CurrentLocation(ctx context.Context) (schemas.Location, error) {
	var rawURL, title string
	err := d.run(ctx,
		chromedp.Location(&rawURL),
		chromedp.Title(&title),
	)
	if err != nil {
		return schemas.Location{}, fmt.Errorf("failed to read location: %w", err)
	}

	loc := schemas.Location{URL: rawURL, Title: title}
	if u, err := url.Parse(rawURL); err == nil {
		loc.Path = u.Path
	}
	return loc, nil
}

// Navigate loads the given path, resolved against the configured base URL.
// Absolute URLs pass through untouched.
func (d *Driver) Navigate(ctx context.Context, path string) error {
	target, err := d.resolve(path)
	if err != nil {
		return err
	}

	d.logger.Debug("Navigating", zap.String("url", target))
	err = d.run(ctx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", target, err)
	}
	return nil
}

func (d *Driver) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid navigation path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	return d.baseURL.ResolveReference(ref).String(), nil
}

// SubmitCredentials fills the login form and submits it. It does not wait
// for the post-login page; deciding what "logged in" looks like belongs to
// the caller.
func (d *Driver) SubmitCredentials(ctx context.Context, identity, proof string) error {
	d.logger.Debug("Submitting credentials", zap.String("identity", identity))
	err := d.run(ctx,
		chromedp.WaitVisible(usernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(usernameSelector, identity, chromedp.ByQuery),
		chromedp.SendKeys(passwordSelector, proof, chromedp.ByQuery),
		chromedp.Click(loginSubmitSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("failed to submit login form: %w", err)
	}
	return nil
}

// ReadArtifacts harvests cookies and web storage from the tab.
func (d *Driver) ReadArtifacts(ctx context.Context) (*schemas.SessionArtifact, error) {
	var cookies []*network.Cookie
	var localStorage, sessionStorage map[string]string

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(`Object.fromEntries(Object.entries(localStorage))`, &localStorage),
		chromedp.Evaluate(`Object.fromEntries(Object.entries(sessionStorage))`, &sessionStorage),
	}
	if err := d.run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("failed to harvest session artifacts: %w", err)
	}

	artifact := &schemas.SessionArtifact{
		LocalStorage:   localStorage,
		SessionStorage: sessionStorage,
	}
	for _, c := range cookies {
		artifact.Cookies = append(artifact.Cookies, schemas.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: schemas.CookieSameSite(c.SameSite.String()),
		})
	}
	return artifact, nil
}

// WriteArtifacts restores a previously harvested artifact into the tab.
func (d *Driver) WriteArtifacts(ctx context.Context, artifact *schemas.SessionArtifact) error {
	if artifact.Empty() {
		return nil
	}

	var tasks chromedp.Tasks
	for _, c := range artifact.Cookies {
		setCookie := network.SetCookie(c.Name, c.Value).
			WithDomain(c.Domain).
			WithPath(c.Path).
			WithSecure(c.Secure).
			WithHTTPOnly(c.HTTPOnly)
		if c.SameSite != "" {
			setCookie = setCookie.WithSameSite(network.CookieSameSite(c.SameSite))
		}
		if c.Expires > 0 {
			expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			setCookie = setCookie.WithExpires(&expiry)
		}
		tasks = append(tasks, setCookie)
	}
	if action, err := storageWriter("localStorage", artifact.LocalStorage); err != nil {
		return err
	} else if action != nil {
		tasks = append(tasks, action)
	}
	if action, err := storageWriter("sessionStorage", artifact.SessionStorage); err != nil {
		return err
	} else if action != nil {
		tasks = append(tasks, action)
	}

	if err := d.run(ctx, tasks); err != nil {
		return fmt.Errorf("failed to restore session artifacts: %w", err)
	}
	return nil
}

// ClearArtifacts wipes cookies and web storage for a guaranteed-clean state.
func (d *Driver) ClearArtifacts(ctx context.Context) error {
	err := d.run(ctx,
		network.ClearBrowserCookies(),
		chromedp.Evaluate(`localStorage.clear(); sessionStorage.clear();`, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to clear session artifacts: %w", err)
	}
	return nil
}

// storageWriter builds an Evaluate action that replays the given entries
// into a web storage area. The JSON round-trip keeps values string-safe.
func storageWriter(area string, entries map[string]string) (chromedp.Action, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s entries: %w", area, err)
	}
	js := fmt.Sprintf(`(() => {
		const data = %s;
		for (const [k, v] of Object.entries(data)) { %s.setItem(k, v); }
	})()`, encoded, area)
	return chromedp.Evaluate(js, nil), nil
}

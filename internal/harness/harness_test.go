package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cuioss/nifi-uiharness/api/schemas"
	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/deadline"
	"github.com/cuioss/nifi-uiharness/internal/session"
)

// -- Page fixtures --

const (
	loadingHTML = `<html><head><title>NiFi</title></head><body><div id="splash">Loading</div></body></html>`

	loginHTML = `<html><head><title>NiFi Login</title></head><body>
	  <form data-testid="login-form"><input id="username"/><input id="password" type="password"/></form>
	  <span>Log In</span></body></html>`

	canvasBareHTML = `<html><head><title>NiFi Flow</title></head><body>
	  <div id="canvas-container"><svg id="canvas"></svg></div></body></html>`

	canvasReadyHTML = `<html><head><title>NiFi Flow</title></head><body>
	  <div id="canvas-container"><svg id="canvas"></svg></div>
	  <div id="toolbar"><button class="new-canvas-item"></button></div>
	  <a id="logout-link" href="#/logout">log out</a></body></html>`
)

// fakeDriver plays back a scripted sequence of DOM snapshots. The last
// snapshot repeats forever. It implements schemas.Driver.
type fakeDriver struct {
	mu        sync.Mutex
	snapshots []string
	idx       int
	loc       schemas.Location

	snapshotErrs map[int]error // per-tick injected failures

	// login scripting
	submitErr     error
	submitted     []string
	afterLogin    []string // snapshot script replacing the current one on successful submit
	artifact      *schemas.SessionArtifact
	readErr       error
	written       []*schemas.SessionArtifact
	clearedCount  int
	navigatedTo   []string
	afterNavigate []string
}

func newFakeDriver(snapshots ...string) *fakeDriver {
	return &fakeDriver{
		snapshots:    snapshots,
		loc:          schemas.Location{URL: "https://localhost:8443/nifi/", Path: "/nifi/", Title: "NiFi"},
		snapshotErrs: make(map[int]error),
	}
}

func (d *fakeDriver) DOMSnapshot(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tick := d.idx
	if err, ok := d.snapshotErrs[tick]; ok {
		d.idx++
		return "", err
	}
	snapshot := d.snapshots[len(d.snapshots)-1]
	if tick < len(d.snapshots) {
		snapshot = d.snapshots[tick]
	}
	d.idx++
	return snapshot, nil
}

func (d *fakeDriver) CurrentLocation(ctx context.Context) (schemas.Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loc, nil
}

func (d *fakeDriver) Navigate(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.navigatedTo = append(d.navigatedTo, path)
	if d.afterNavigate != nil {
		d.snapshots = d.afterNavigate
		d.idx = 0
	}
	return nil
}

func (d *fakeDriver) SubmitCredentials(ctx context.Context, identity, proof string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, identity)
	if d.submitErr != nil {
		return d.submitErr
	}
	if d.afterLogin != nil {
		d.snapshots = d.afterLogin
		d.idx = 0
	}
	return nil
}

func (d *fakeDriver) ReadArtifacts(ctx context.Context) (*schemas.SessionArtifact, error) {
	if d.readErr != nil {
		return nil, d.readErr
	}
	return d.artifact, nil
}

func (d *fakeDriver) WriteArtifacts(ctx context.Context, artifact *schemas.SessionArtifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written = append(d.written, artifact)
	return nil
}

func (d *fakeDriver) ClearArtifacts(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearedCount++
	return nil
}

var _ schemas.Driver = (*fakeDriver)(nil)

// -- Helpers --

func testConfig() *config.Config {
	return &config.Config{
		Harness: config.HarnessConfig{
			BaseURL:      "https://localhost:8443/nifi",
			WaitTimeout:  500 * time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			TestBudget:   5 * time.Second,
			SessionTTL:   time.Minute,
		},
	}
}

func newTestHarness(t *testing.T, driver schemas.Driver, opts ...Option) *Harness {
	t.Helper()
	return New(testConfig(), driver, zaptest.NewLogger(t), opts...)
}

// -- GetPageContext --

func TestGetPageContext(t *testing.T) {
	driver := newFakeDriver(canvasReadyHTML)
	driver.loc = schemas.Location{URL: "https://localhost:8443/nifi/", Path: "/nifi/", Title: "NiFi Flow"}
	h := newTestHarness(t, driver)

	pc, err := h.GetPageContext(context.Background())
	require.NoError(t, err)

	assert.Equal(t, schemas.PageTypeMainCanvas, pc.PageType)
	assert.True(t, pc.Authenticated)
	assert.True(t, pc.Ready)
	assert.Equal(t, "https://localhost:8443/nifi/", pc.URL)
	assert.Equal(t, "/nifi/", pc.Pathname)
	assert.Equal(t, "NiFi Flow", pc.Title)
	assert.True(t, pc.Elements[`#toolbar`])
	assert.False(t, pc.ObservedAt.IsZero())
}

// Every produced context must honor the two core invariants.
func TestGetPageContextInvariants(t *testing.T) {
	for name, html := range map[string]string{
		"loading": loadingHTML,
		"login":   loginHTML,
		"bare":    canvasBareHTML,
		"ready":   canvasReadyHTML,
	} {
		t.Run(name, func(t *testing.T) {
			h := newTestHarness(t, newFakeDriver(html))
			pc, err := h.GetPageContext(context.Background())
			require.NoError(t, err)

			if pc.Authenticated {
				assert.NotEqual(t, schemas.PageTypeLogin, pc.PageType)
			}
			if pc.Ready {
				assert.NotEqual(t, schemas.PageTypeUnknown, pc.PageType)
			}
		})
	}
}

// -- WaitForPageType --

func TestWaitForPageTypeEventuallyMatches(t *testing.T) {
	driver := newFakeDriver(loadingHTML, loadingHTML, loadingHTML, canvasReadyHTML)
	h := newTestHarness(t, driver)

	pc, err := h.WaitForPageType(context.Background(), schemas.PageTypeMainCanvas, WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, schemas.PageTypeMainCanvas, pc.PageType)
}

func TestWaitForPageTypeTimeoutCarriesLastContext(t *testing.T) {
	driver := newFakeDriver(loadingHTML)
	h := newTestHarness(t, driver)

	_, err := h.WaitForPageType(context.Background(), schemas.PageTypeMainCanvas, WaitOptions{
		Timeout:      50 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	require.Error(t, err)

	var timeoutErr *PageStateTimeoutError
	require.True(t, errors.As(err, &timeoutErr), "timeout must be a PageStateTimeoutError, got %T", err)
	assert.Equal(t, schemas.PageTypeMainCanvas, timeoutErr.Target)
	assert.Equal(t, schemas.PageTypeUnknown, timeoutErr.LastContext.PageType,
		"the last observed context must ride along for diagnosis")
	assert.Contains(t, timeoutErr.LastContext.Indicators, "Loading")
}

func TestWaitForPageTypeWaitForReady(t *testing.T) {
	// The canvas appears before its toolbar; WaitForReady must hold out
	// for the fully interactive page.
	driver := newFakeDriver(canvasBareHTML, canvasBareHTML, canvasReadyHTML)
	h := newTestHarness(t, driver)

	pc, err := h.WaitForPageType(context.Background(), schemas.PageTypeMainCanvas, WaitOptions{WaitForReady: true})
	require.NoError(t, err)
	assert.True(t, pc.Ready)
	assert.True(t, pc.Elements[`#toolbar`])
}

func TestWaitForPageTypeRetriesTransientErrors(t *testing.T) {
	driver := newFakeDriver(loadingHTML, loadingHTML, canvasReadyHTML)
	driver.snapshotErrs[1] = errors.New("frame detached mid-navigation")
	h := newTestHarness(t, driver)

	pc, err := h.WaitForPageType(context.Background(), schemas.PageTypeMainCanvas, WaitOptions{})
	require.NoError(t, err, "a transient snapshot error must not abort the wait")
	assert.Equal(t, schemas.PageTypeMainCanvas, pc.PageType)
}

func TestWaitForPageTypeContextCancellation(t *testing.T) {
	driver := newFakeDriver(loadingHTML)
	h := newTestHarness(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := h.WaitForPageType(ctx, schemas.PageTypeMainCanvas, WaitOptions{Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitForPageTypeHonorsTestBudget(t *testing.T) {
	driver := newFakeDriver(loadingHTML)
	h := newTestHarness(t, driver)

	h.StartTestTimer("budget-test", time.Nanosecond)
	defer h.EndTestTimer()

	_, err := h.WaitForPageType(context.Background(), schemas.PageTypeMainCanvas, WaitOptions{Timeout: 5 * time.Second})
	require.Error(t, err)

	var deadlineErr *deadline.DeadlineExceededError
	assert.True(t, errors.As(err, &deadlineErr),
		"the cumulative budget must cut the wait short with a DeadlineExceededError, got %T", err)
}

// -- VerifyPageType / NavigateToPage --

func TestVerifyPageType(t *testing.T) {
	h := newTestHarness(t, newFakeDriver(loginHTML))

	pc, err := h.VerifyPageType(context.Background(), schemas.PageTypeLogin)
	require.NoError(t, err)
	assert.Equal(t, schemas.PageTypeLogin, pc.PageType)

	_, err = h.VerifyPageType(context.Background(), schemas.PageTypeMainCanvas)
	var mismatch *PageTypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, schemas.PageTypeMainCanvas, mismatch.Expected)
	assert.Equal(t, schemas.PageTypeLogin, mismatch.Actual)
}

func TestNavigateToPage(t *testing.T) {
	driver := newFakeDriver(loginHTML)
	driver.afterNavigate = []string{loadingHTML, canvasReadyHTML}
	h := newTestHarness(t, driver)

	pc, err := h.NavigateToPage(context.Background(), "/nifi/", schemas.PageTypeMainCanvas, WaitOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/nifi/"}, driver.navigatedTo)
	assert.Equal(t, schemas.PageTypeMainCanvas, pc.PageType)
}

// -- Session flow through the harness --

func TestRetrieveSessionLoginRoundTrip(t *testing.T) {
	driver := newFakeDriver(loginHTML)
	driver.afterLogin = []string{loadingHTML, canvasReadyHTML}
	driver.artifact = &schemas.SessionArtifact{
		Cookies: []schemas.Cookie{{Name: "__Secure-Authorization-Bearer", Value: "token"}},
	}
	h := newTestHarness(t, driver)
	ctx := context.Background()

	rec, err := h.RetrieveSession(ctx, "admin", "adminadminadmin", session.Options{})
	require.NoError(t, err)
	require.True(t, rec.Valid)
	assert.Equal(t, "admin", rec.Identity)
	assert.Len(t, driver.submitted, 1)

	// Second retrieval reuses the cache: no further credential submission.
	_, err = h.RetrieveSession(ctx, "admin", "adminadminadmin", session.Options{})
	require.NoError(t, err)
	assert.Len(t, driver.submitted, 1)

	// ForceLogin submits again.
	_, err = h.RetrieveSession(ctx, "admin", "adminadminadmin", session.Options{ForceLogin: true})
	require.NoError(t, err)
	assert.Len(t, driver.submitted, 2)
}

func TestRetrieveSessionLoginFailure(t *testing.T) {
	driver := newFakeDriver(loginHTML)
	driver.submitErr = errors.New("403 Forbidden")
	h := newTestHarness(t, driver)

	_, err := h.RetrieveSession(context.Background(), "admin", "wrong", session.Options{})
	require.Error(t, err)

	var loginErr *LoginError
	require.True(t, errors.As(err, &loginErr))
	assert.Equal(t, "admin", loginErr.Identity)
	assert.ErrorContains(t, err, "403 Forbidden")
}

// Login that submits but never reaches a ready canvas is a login failure
// carrying the page-state timeout for diagnosis.
func TestRetrieveSessionLoginNeverReady(t *testing.T) {
	driver := newFakeDriver(loginHTML)
	driver.afterLogin = []string{loadingHTML}
	cfg := testConfig()
	cfg.Harness.WaitTimeout = 50 * time.Millisecond
	h := New(cfg, driver, zaptest.NewLogger(t))

	_, err := h.RetrieveSession(context.Background(), "admin", "proof", session.Options{})
	require.Error(t, err)

	var loginErr *LoginError
	require.True(t, errors.As(err, &loginErr))
	var timeoutErr *PageStateTimeoutError
	assert.True(t, errors.As(err, &timeoutErr), "the underlying timeout must stay unwrappable")
}

func TestClearSessionWipesArtifacts(t *testing.T) {
	driver := newFakeDriver(loginHTML)
	driver.afterLogin = []string{canvasReadyHTML}
	driver.artifact = &schemas.SessionArtifact{Cookies: []schemas.Cookie{{Name: "c", Value: "v"}}}
	h := newTestHarness(t, driver)
	ctx := context.Background()

	_, err := h.RetrieveSession(ctx, "admin", "proof", session.Options{})
	require.NoError(t, err)

	require.NoError(t, h.ClearSession(ctx))
	assert.Equal(t, 1, driver.clearedCount)

	// Post-clear retrieval performs a fresh round-trip.
	driver.snapshots = []string{loginHTML}
	driver.idx = 0
	driver.afterLogin = []string{canvasReadyHTML}
	_, err = h.RetrieveSession(ctx, "admin", "proof", session.Options{})
	require.NoError(t, err)
	assert.Len(t, driver.submitted, 2)
}

// -- Recorder wiring --

type memoryRecorder struct {
	mu           sync.Mutex
	observations []schemas.PageContext
	err          error
}

func (r *memoryRecorder) RecordObservation(ctx context.Context, runID string, pc schemas.PageContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observations = append(r.observations, pc)
	return r.err
}

func TestRecorderReceivesObservations(t *testing.T) {
	rec := &memoryRecorder{}
	h := newTestHarness(t, newFakeDriver(canvasReadyHTML), WithRecorder(rec))

	_, err := h.GetPageContext(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.observations, 1)
	assert.Equal(t, schemas.PageTypeMainCanvas, rec.observations[0].PageType)
}

func TestRecorderFailureDoesNotFailStep(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("database unreachable")}
	h := newTestHarness(t, newFakeDriver(canvasReadyHTML), WithRecorder(rec))

	_, err := h.GetPageContext(context.Background())
	assert.NoError(t, err, "observation persistence must never fail a test step")
}

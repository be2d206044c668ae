// Package deadline tracks the cumulative wall-clock budget of a running
// test, independent of any single step's own timeout. A multi-step sequence
// fails fast via Check instead of waiting out several long per-step timeouts
// in series.
package deadline

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeadlineExceededError reports an exhausted test budget. It is distinct
// from a single step's timeout (see harness.PageStateTimeoutError).
type DeadlineExceededError struct {
	TestID  string
	Budget  time.Duration
	Elapsed time.Duration
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("test %q exceeded its time budget: %s elapsed of %s allowed", e.TestID, e.Elapsed, e.Budget)
}

type budget struct {
	startedAt time.Time
	allowed   time.Duration
}

// Guard tracks per-test budgets. Check is a pure elapsed-time comparison
// with no I/O, so callers may invoke it on every poll tick.
type Guard struct {
	mu      sync.Mutex
	budgets map[string]budget
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an empty guard.
func New(logger *zap.Logger) *Guard {
	return &Guard{
		budgets: make(map[string]budget),
		now:     time.Now,
		logger:  logger.Named("deadline"),
	}
}

// Start begins tracking the given test. Restarting a known test resets its
// clock.
func (g *Guard) Start(testID string, allowed time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.budgets[testID] = budget{startedAt: g.now(), allowed: allowed}
	g.logger.Debug("Test timer started", zap.String("test_id", testID), zap.Duration("budget", allowed))
}

// Check fails with a DeadlineExceededError once the test's cumulative
// elapsed time passes its budget. Unknown tests pass; a test without a
// timer simply has no budget to exceed.
func (g *Guard) Check(testID string) error {
	g.mu.Lock()
	b, ok := g.budgets[testID]
	now := g.now()
	g.mu.Unlock()

	if !ok {
		return nil
	}
	if elapsed := now.Sub(b.startedAt); elapsed > b.allowed {
		return &DeadlineExceededError{TestID: testID, Budget: b.allowed, Elapsed: elapsed}
	}
	return nil
}

// End releases tracking for the test. Safe to call for unknown tests.
func (g *Guard) End(testID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.budgets, testID)
}

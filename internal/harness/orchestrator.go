package harness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// WaitOptions controls one polling wait.
type WaitOptions struct {
	// Timeout is the per-wait ceiling. Zero means the configured default.
	Timeout time.Duration
	// PollInterval is the delay between evaluations. Zero means the
	// configured default.
	PollInterval time.Duration
	// WaitForReady additionally requires the readiness flag, not just a
	// page type match.
	WaitForReady bool
}

// pollState is the explicit state machine of one wait. Modelling the loop
// this way keeps cancellation and deadline semantics testable without a
// real browser.
type pollState int

const (
	statePolling pollState = iota
	stateMatched
	stateTimedOut
)

// WaitForPageType polls collect/classify/evaluate until the target page
// type is reached or the timeout elapses. The returned PageContext is
// always the most recent evaluation; a result for a state superseded by a
// later poll is never returned. Timeouts carry the last observed context
// inside a PageStateTimeoutError.
func (h *Harness) WaitForPageType(ctx context.Context, target schemas.PageType, opts WaitOptions) (schemas.PageContext, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = h.cfg.Harness.WaitTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = h.cfg.Harness.PollInterval
	}

	log := h.logger.With(zap.String("target", string(target)), zap.Bool("wait_for_ready", opts.WaitForReady))
	log.Debug("Waiting for page state", zap.Duration("timeout", timeout), zap.Duration("poll_interval", interval))

	startedAt := h.now()
	deadlineAt := startedAt.Add(timeout)

	var last schemas.PageContext
	var lastErr error
	state := statePolling
	ticks := 0

	for state == statePolling {
		// The cumulative test budget cuts the wait short even when the
		// per-wait timeout still has room.
		if err := h.CheckTestTimer(); err != nil {
			return last, err
		}

		pc, err := h.GetPageContext(ctx)
		if err != nil {
			// Transient evaluation errors (mid-navigation snapshots,
			// detached frames) are retried until the timeout.
			lastErr = err
			log.Debug("Evaluation failed, will retry", zap.Error(err))
		} else {
			last = pc
			lastErr = nil
			if pc.PageType == target && (!opts.WaitForReady || pc.Ready) {
				state = stateMatched
				break
			}
		}
		ticks++

		if !h.now().Before(deadlineAt) {
			state = stateTimedOut
			break
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}

	if state == stateMatched {
		log.Debug("Page state reached", zap.Int("ticks", ticks), zap.Duration("waited", h.now().Sub(startedAt)))
		return last, nil
	}

	waited := h.now().Sub(startedAt)
	if lastErr != nil {
		log.Warn("Page state wait timed out with evaluation errors", zap.Duration("waited", waited), zap.Error(lastErr))
	} else {
		log.Warn("Page state wait timed out",
			zap.Duration("waited", waited),
			zap.String("last_page_type", string(last.PageType)),
			zap.Bool("last_ready", last.Ready),
		)
	}
	return last, &PageStateTimeoutError{Target: target, WaitedFor: waited, LastContext: last}
}

// driverAuthenticator performs the login round-trip through the driver and
// harvests the resulting artifacts. It is the session cache's login
// collaborator.
type driverAuthenticator struct {
	h *Harness
}

func (a *driverAuthenticator) Login(ctx context.Context, identity, proof string) (*schemas.SessionArtifact, error) {
	h := a.h
	h.logger.Info("Performing login round-trip", zap.String("identity", identity))

	if err := h.driver.SubmitCredentials(ctx, identity, proof); err != nil {
		return nil, &LoginError{Identity: identity, Err: err}
	}

	// A submitted form is not a session: the canvas must come up ready
	// before the artifacts are worth caching. Open-access deployments
	// never reach this path because no login affordance is shown.
	if _, err := h.WaitForPageType(ctx, schemas.PageTypeMainCanvas, WaitOptions{WaitForReady: true}); err != nil {
		return nil, &LoginError{Identity: identity, Err: err}
	}

	artifact, err := h.driver.ReadArtifacts(ctx)
	if err != nil {
		return nil, &LoginError{Identity: identity, Err: err}
	}
	if artifact.Empty() {
		h.logger.Warn("Login succeeded but harvested artifacts are empty", zap.String("identity", identity))
	}
	return artifact, nil
}

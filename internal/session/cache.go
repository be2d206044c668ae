// Package session caches login artifacts per credential identity so a test
// run pays for at most one login round-trip per validity window.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// Options controls a single Retrieve call.
type Options struct {
	// ForceLogin bypasses any cached record and always performs a fresh
	// login round-trip.
	ForceLogin bool
	// ValidateSession runs a cheap liveness probe before trusting a cached
	// record. A failed probe is treated as a cache miss, not an error.
	ValidateSession bool
}

// Record is the cached session state for one identity. At most one record
// exists per identity; a new login overwrites the prior one.
type Record struct {
	Identity  string
	Artifact  *schemas.SessionArtifact
	CreatedAt time.Time
	TTL       time.Duration
	Valid     bool
}

// Usable reports whether the record can be reused at the given instant.
func (r *Record) Usable(now time.Time) bool {
	return r != nil && r.Valid && !r.Artifact.Empty() && now.Before(r.CreatedAt.Add(r.TTL))
}

// Authenticator performs the actual login exchange and harvests the
// resulting session artifact. The cache only decides when to invoke it.
type Authenticator interface {
	Login(ctx context.Context, identity, proof string) (*schemas.SessionArtifact, error)
}

// ProbeFunc is the liveness check used by Options.ValidateSession. It
// returns an error when the restored session is no longer accepted (for
// example, the application redirected back to the login page).
type ProbeFunc func(ctx context.Context) error

// Cache holds the session records. It is process-wide mutable state with an
// explicit lifecycle: the first Retrieve is its init, Clear is its teardown.
// It is injected, never a package singleton, so tests can reset it
// deterministically.
type Cache struct {
	driver schemas.Driver
	auth   Authenticator
	probe  ProbeFunc
	ttl    time.Duration
	logger *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	records  map[string]*Record
	identity string // identity of the most recently retrieved session
}

// New creates an empty cache. probe may be nil when no liveness check is
// available.
func New(driver schemas.Driver, auth Authenticator, probe ProbeFunc, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		driver:  driver,
		auth:    auth,
		probe:   probe,
		ttl:     ttl,
		logger:  logger.Named("session_cache"),
		now:     time.Now,
		records: make(map[string]*Record),
	}
}

// Retrieve returns a usable session for the identity, reusing the cached
// record when possible. Absent ForceLogin, the authenticator is invoked at
// most once per (identity, validity window). Login failures are surfaced
// verbatim and never leave a record behind.
func (c *Cache) Retrieve(ctx context.Context, identity, proof string, opts Options) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !opts.ForceLogin {
		if rec := c.records[identity]; rec.Usable(c.now()) {
			if reused := c.tryReuse(ctx, rec, opts); reused {
				c.identity = identity
				c.logger.Debug("Reusing cached session", zap.String("identity", identity),
					zap.Time("created_at", rec.CreatedAt))
				return rec, nil
			}
		}
	}

	artifact, err := c.auth.Login(ctx, identity, proof)
	if err != nil {
		// No record is stored on failure; the caller sees the
		// collaborator's error unmasked.
		return nil, fmt.Errorf("login for identity %q failed: %w", identity, err)
	}

	rec := &Record{
		Identity:  identity,
		Artifact:  artifact,
		CreatedAt: c.now(),
		TTL:       c.ttl,
		Valid:     true,
	}
	c.records[identity] = rec
	c.identity = identity
	c.logger.Info("Stored fresh session", zap.String("identity", identity), zap.Duration("ttl", c.ttl))
	return rec, nil
}

// tryReuse restores the cached artifact into the browser and optionally
// probes it. Any failure invalidates the record and reports a cache miss.
func (c *Cache) tryReuse(ctx context.Context, rec *Record, opts Options) bool {
	if err := c.driver.WriteArtifacts(ctx, rec.Artifact); err != nil {
		c.logger.Warn("Failed to restore cached session artifacts, falling back to fresh login",
			zap.String("identity", rec.Identity), zap.Error(err))
		rec.Valid = false
		return false
	}
	if opts.ValidateSession && c.probe != nil {
		if err := c.probe(ctx); err != nil {
			// Recovered locally: validation failure means relogin,
			// it is never surfaced to the caller.
			c.logger.Info("Cached session failed revalidation, falling back to fresh login",
				zap.String("identity", rec.Identity), zap.Error(err))
			rec.Valid = false
			return false
		}
	}
	return true
}

// Clear invalidates the current identity's record and wipes any externally
// held authentication artifacts so the next evaluation starts from the
// login page.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.identity != "" {
		if rec := c.records[c.identity]; rec != nil {
			rec.Valid = false
		}
		c.identity = ""
	}
	c.mu.Unlock()

	if err := c.driver.ClearArtifacts(ctx); err != nil {
		return fmt.Errorf("failed to clear browser session artifacts: %w", err)
	}
	c.logger.Debug("Session cleared")
	return nil
}

// Invalidate marks the identity's record unusable without touching the
// browser. Used when an external observation (e.g. an unexpected login
// redirect mid-test) proves the session dead.
func (c *Cache) Invalidate(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec := c.records[identity]; rec != nil {
		rec.Valid = false
	}
}

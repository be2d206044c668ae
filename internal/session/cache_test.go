package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cuioss/nifi-uiharness/api/schemas"
)

// -- Mocks --

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Login(ctx context.Context, identity, proof string) (*schemas.SessionArtifact, error) {
	args := m.Called(ctx, identity, proof)
	if artifact := args.Get(0); artifact != nil {
		return artifact.(*schemas.SessionArtifact), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) DOMSnapshot(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockDriver) CurrentLocation(ctx context.Context) (schemas.Location, error) {
	args := m.Called(ctx)
	return args.Get(0).(schemas.Location), args.Error(1)
}

func (m *mockDriver) Navigate(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

func (m *mockDriver) SubmitCredentials(ctx context.Context, identity, proof string) error {
	return m.Called(ctx, identity, proof).Error(0)
}

func (m *mockDriver) ReadArtifacts(ctx context.Context) (*schemas.SessionArtifact, error) {
	args := m.Called(ctx)
	if artifact := args.Get(0); artifact != nil {
		return artifact.(*schemas.SessionArtifact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDriver) WriteArtifacts(ctx context.Context, artifact *schemas.SessionArtifact) error {
	return m.Called(ctx, artifact).Error(0)
}

func (m *mockDriver) ClearArtifacts(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Helpers --

func adminArtifact() *schemas.SessionArtifact {
	return &schemas.SessionArtifact{
		Cookies: []schemas.Cookie{{Name: "__Secure-Authorization-Bearer", Value: "jwt-token", Domain: "localhost", Path: "/"}},
	}
}

type cacheFixture struct {
	cache  *Cache
	auth   *mockAuthenticator
	driver *mockDriver
	clock  *time.Time
}

func newFixture(t *testing.T, probe ProbeFunc, ttl time.Duration) *cacheFixture {
	t.Helper()
	auth := new(mockAuthenticator)
	driver := new(mockDriver)
	c := New(driver, auth, probe, ttl, zaptest.NewLogger(t))

	current := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	return &cacheFixture{cache: c, auth: auth, driver: driver, clock: &current}
}

// -- Tests --

// A valid unexpired record must be reused: the authenticator is invoked
// exactly once across two Retrieve calls.
func TestRetrieveReusesCachedSession(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "adminadminadmin").Return(adminArtifact(), nil).Once()
	f.driver.On("WriteArtifacts", mock.Anything, mock.Anything).Return(nil)

	first, err := f.cache.Retrieve(ctx, "admin", "adminadminadmin", Options{})
	require.NoError(t, err)
	require.True(t, first.Valid)

	second, err := f.cache.Retrieve(ctx, "admin", "adminadminadmin", Options{})
	require.NoError(t, err)
	assert.Same(t, first, second, "the cached record must be returned, not a new one")

	f.auth.AssertNumberOfCalls(t, "Login", 1)
}

// ForceLogin always triggers the authenticator, cached record or not.
func TestRetrieveForceLogin(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "proof").Return(adminArtifact(), nil).Twice()

	_, err := f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	_, err = f.cache.Retrieve(ctx, "admin", "proof", Options{ForceLogin: true})
	require.NoError(t, err)

	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

// An expired record is a cache miss.
func TestRetrieveExpiredRecord(t *testing.T) {
	f := newFixture(t, nil, 10*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "proof").Return(adminArtifact(), nil).Twice()

	_, err := f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	*f.clock = f.clock.Add(11 * time.Minute)

	_, err = f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

// Scenario D: Clear followed by Retrieve never reuses the pre-clear record.
func TestClearForcesFreshLogin(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "proof").Return(adminArtifact(), nil).Twice()
	f.driver.On("ClearArtifacts", mock.Anything).Return(nil).Once()

	_, err := f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	require.NoError(t, f.cache.Clear(ctx))
	f.driver.AssertCalled(t, "ClearArtifacts", mock.Anything)

	_, err = f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

// A failed revalidation probe is recovered locally via a fresh login.
func TestValidateSessionFallsBackToLogin(t *testing.T) {
	probeErr := errors.New("redirected to login page")
	probeCalls := 0
	probe := func(ctx context.Context) error {
		probeCalls++
		return probeErr
	}

	f := newFixture(t, probe, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "proof").Return(adminArtifact(), nil).Twice()
	f.driver.On("WriteArtifacts", mock.Anything, mock.Anything).Return(nil)

	_, err := f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	// Second call validates the cached record, the probe fails, and a
	// fresh login happens without the probe error surfacing.
	rec, err := f.cache.Retrieve(ctx, "admin", "proof", Options{ValidateSession: true})
	require.NoError(t, err)
	assert.True(t, rec.Valid)
	assert.Equal(t, 1, probeCalls)
	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

// Login failures are surfaced verbatim and leave the cache empty.
func TestLoginFailureStoresNoRecord(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	loginErr := errors.New("invalid credentials")
	f.auth.On("Login", mock.Anything, "admin", "wrong").Return(nil, loginErr).Twice()

	_, err := f.cache.Retrieve(ctx, "admin", "wrong", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, loginErr)

	// The failure left nothing behind: the next call logs in again and
	// fails the same way, proving no phantom record was cached.
	_, err = f.cache.Retrieve(ctx, "admin", "wrong", Options{})
	require.Error(t, err)
	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

// One record per identity: different identities are cached independently.
func TestRecordsPerIdentity(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "p1").Return(adminArtifact(), nil).Once()
	f.auth.On("Login", mock.Anything, "operator", "p2").Return(&schemas.SessionArtifact{
		Cookies: []schemas.Cookie{{Name: "__Secure-Authorization-Bearer", Value: "other"}},
	}, nil).Once()
	f.driver.On("WriteArtifacts", mock.Anything, mock.Anything).Return(nil)

	adminRec, err := f.cache.Retrieve(ctx, "admin", "p1", Options{})
	require.NoError(t, err)
	opRec, err := f.cache.Retrieve(ctx, "operator", "p2", Options{})
	require.NoError(t, err)

	assert.NotEqual(t, adminRec.Artifact.Cookies[0].Value, opRec.Artifact.Cookies[0].Value)

	// Both identities now hit the cache.
	_, err = f.cache.Retrieve(ctx, "admin", "p1", Options{})
	require.NoError(t, err)
	_, err = f.cache.Retrieve(ctx, "operator", "p2", Options{})
	require.NoError(t, err)

	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, nil, 25*time.Minute)
	ctx := context.Background()

	f.auth.On("Login", mock.Anything, "admin", "proof").Return(adminArtifact(), nil).Twice()

	_, err := f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)

	f.cache.Invalidate("admin")

	_, err = f.cache.Retrieve(ctx, "admin", "proof", Options{})
	require.NoError(t, err)
	f.auth.AssertNumberOfCalls(t, "Login", 2)
}

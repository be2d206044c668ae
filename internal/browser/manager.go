// Package browser drives a real Chrome instance over the DevTools protocol
// and exposes it behind the schemas.Driver contract.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/internal/config"
)

// Manager owns the browser process and the creation of isolated tab
// contexts. One Manager serves a whole test run; each Driver gets its own
// tab so parallel tests cannot trample each other's DOM.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// Track active drivers for graceful shutdown.
	drivers map[string]*Driver
	mu      sync.Mutex
}

// NewManager creates and initializes the browser manager.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		drivers: make(map[string]*Driver),
	}

	opts := m.generateAllocatorOptions()
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("ignore_tls_errors", cfg.Browser.IgnoreTLSErrors),
		zap.String("base_url", cfg.Harness.BaseURL),
	)
	return m, nil
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser

	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Performance and stability flags
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		// The target runs with a self-signed certificate in most test
		// environments, so TLS trust is configurable.
		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	if vp := browserCfg.Viewport; vp["width"] > 0 && vp["height"] > 0 {
		opts = append(opts, chromedp.WindowSize(vp["width"], vp["height"]))
	}

	for _, arg := range browserCfg.Args {
		name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	return opts
}

// NewDriver opens a fresh, isolated tab and wraps it in a Driver. The tab
// is tied to the lifecycle of the given context.
func (m *Manager) NewDriver(sessionCtx context.Context) (*Driver, error) {
	ctx, cancel := chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Tie the tab to the lifecycle of the incoming session request.
	go func() {
		select {
		case <-sessionCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	// Establish the DevTools connection before handing the tab out.
	if err := chromedp.Run(ctx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize new browser tab: %w", err)
	}

	d := newDriver(ctx, cancel, m, uuid.New().String())

	m.mu.Lock()
	m.drivers[d.id] = d
	m.mu.Unlock()

	return d, nil
}

// unregisterDriver removes the driver from the tracking map. Called by
// Driver.Close.
func (m *Manager) unregisterDriver(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, id)
}

// Shutdown gracefully terminates all browser processes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	driversToClose := make([]*Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		driversToClose = append(driversToClose, d)
	}
	// Clear the map immediately so no new drivers join mid-shutdown.
	m.drivers = make(map[string]*Driver)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range driversToClose {
		wg.Add(1)
		go func(d *Driver) {
			defer wg.Done()
			// Bound each close so an unresponsive tab cannot hang shutdown.
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := d.Close(closeCtx); err != nil {
				m.logger.Warn("Error closing browser tab during shutdown", zap.String("driver_id", d.id), zap.Error(err))
			}
		}(d)
	}
	wg.Wait()

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cuioss/nifi-uiharness/internal/browser"
	"github.com/cuioss/nifi-uiharness/internal/config"
	"github.com/cuioss/nifi-uiharness/internal/harness"
	"github.com/cuioss/nifi-uiharness/internal/observability"
	"github.com/cuioss/nifi-uiharness/internal/store"
)

// Components holds the initialized services a command needs to drive the
// target UI. It centralizes lifecycle management so every command tears
// down in the same order.
type Components struct {
	Harness        *harness.Harness
	Driver         *browser.Driver
	BrowserManager *browser.Manager
	Store          *store.Store
	DBPool         *pgxpool.Pool
}

// Shutdown gracefully closes all components in reverse creation order.
func (c *Components) Shutdown() {
	logger := observability.Logger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Store != nil && c.Harness != nil {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Store.EndRun(endCtx, c.Harness.RunID()); err != nil {
			logger.Warn("Failed to mark run finished.", zap.Error(err))
		}
		cancel()
	}

	if c.BrowserManager != nil {
		// A dedicated context keeps shutdown working even after the main
		// command context was canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.BrowserManager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// buildComponents handles the full dependency injection for a command run.
func buildComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	logger := observability.Logger()
	components := &Components{}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Observation store (optional)
	var harnessOpts []harness.Option
	if cfg.Harness.RecordObservations {
		dbPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			initializationErr = fmt.Errorf("failed to create database connection pool: %w", err)
			return nil, initializationErr
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize observation store: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		harnessOpts = append(harnessOpts, harness.WithRecorder(dbStore))
		logger.Debug("Observation store initialized.")
	}

	// 2. Browser manager
	browserManager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize browser manager: %w", err)
		return nil, initializationErr
	}
	components.BrowserManager = browserManager
	logger.Debug("Browser manager initialized.")

	// 3. Driver tab
	driver, err := browserManager.NewDriver(ctx)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open browser tab: %w", err)
		return nil, initializationErr
	}
	components.Driver = driver

	// 4. Harness
	h := harness.New(cfg, driver, logger, harnessOpts...)
	components.Harness = h

	if components.Store != nil {
		if err := components.Store.BeginRun(ctx, h.RunID(), h.RegistryVersion(), cfg.Harness.BaseURL); err != nil {
			initializationErr = fmt.Errorf("failed to register harness run: %w", err)
			return nil, initializationErr
		}
	}

	logger.Info("All components initialized.", zap.String("run_id", h.RunID()))
	return components, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuioss/nifi-uiharness/cmd"
	"github.com/cuioss/nifi-uiharness/internal/observability"
)

func main() {
	// Ctrl-C cancels the command context so browser and database teardown
	// still run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}

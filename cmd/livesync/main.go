// Package main provides the entry point for the livesync CLI tool.
package main

import (
	"context"
	"os"

	"github.com/clinicdesk/livesync/cmd/livesync/app"
	"github.com/clinicdesk/livesync/pkg/constants"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	application, err := app.New(version, commit, date, builtBy)
	if err != nil {
		app.ExitOnError(err)
	}

	ctx, cancel := app.ContextWithSignals(context.Background())

	runErr := application.Execute(ctx, os.Args[1:])
	cancel()

	// Fresh context: the signal context may already be cancelled
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		application.Logger().Error().Err(err).Msg("Shutdown error")
	}

	app.ExitOnError(runErr)
}

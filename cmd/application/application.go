// Package application provides the application interface for livesync commands.
//
// Commands accept Application rather than the concrete App type so they can
// be tested with Mock.
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            client, err := app.Client()
//	            if err != nil {
//	                return err
//	            }
//	            // ... use client
//	            return nil
//	        },
//	    }
//	}
package application

import (
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync"
)

// Application provides what commands need from the running CLI.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Client returns the live sync client, creating it lazily on first use.
	Client() (livesync.Client, error)

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (table, json, yaml).
	OutputFormat() string

	// Credentials returns the configured username and password, if any.
	Credentials() (username, password string)

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}

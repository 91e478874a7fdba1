// Package cmdutil provides helpers shared by livesync commands.
package cmdutil

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync"
	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/cmd/output"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

// RecordArgs validates "<resource> <id>" or "<resource>/<id>" positional args.
func RecordArgs(cmd *cobra.Command, args []string) error {
	_, err := ParseRecordArgs(args)
	return err
}

// ParseRecordArgs builds a record key from positional args.
func ParseRecordArgs(args []string) (records.RecordKey, error) {
	switch len(args) {
	case 1:
		return records.ParseKey(args[0])
	case 2:
		key := records.NewKey(strings.TrimSpace(args[0]), strings.TrimSpace(args[1]))
		if !key.Valid() {
			return records.RecordKey{}, errors.NewValidationError("record", strings.Join(args, "/"), "resource and id are required")
		}
		return key, nil
	default:
		return records.RecordKey{}, errors.NewValidationError("record", args, "expected <resource> <id> or <resource>/<id>")
	}
}

// Format returns the output format configured for the app.
func Format(app application.Application) output.Format {
	return output.DetectFormat(app.OutputFormat())
}

// Authenticated returns the app's client, signing in with the configured
// credentials when no token is stored yet.
func Authenticated(ctx context.Context, app application.Application) (livesync.Client, error) {
	client, err := app.Client()
	if err != nil {
		return nil, err
	}
	if client.Authenticated() {
		return client, nil
	}

	username, password := app.Credentials()
	if username == "" {
		return nil, errors.NewAuthenticationError("", "login",
			"no token or username configured; set LIVESYNC_API_TOKEN or LIVESYNC_USERNAME", nil)
	}
	id, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	app.Logger().Debug().Str("username", id.Name).Msg("Signed in with configured credentials")
	return client, nil
}

// Wait blocks until d elapses, or until ctx is done when d is zero. It
// reports whether ctx ended the wait.
func Wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		<-ctx.Done()
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}

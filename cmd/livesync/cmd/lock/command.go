// Package lock implements the lock command and its subcommands.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/cmd/alerts"
	"github.com/clinicdesk/livesync/internal/cmd/cmdutil"
	"github.com/clinicdesk/livesync/internal/cmd/output"
	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

// NewCommand creates the lock command with app dependencies.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lock",
		GroupID: "core",
		Short:   "Inspect and manage record locks",
		Long: `Lock works with the advisory edit locks the clinic API keeps per record.

Lockable resources: users, pacientes, atenciones. Records are addressed as
"<resource> <id>" or "<resource>/<id>".`,
		Example: `  livesync lock status pacientes 9
  livesync lock acquire atenciones/T1 --hold 2m
  livesync lock release users 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newStatusCommand(app))
	cmd.AddCommand(newAcquireCommand(app))
	cmd.AddCommand(newReleaseCommand(app))

	return cmd
}

func newStatusCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "status <resource> <id> | <resource>/<id>...",
		Short: "Show who holds a record's lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := parseKeys(args)
			if err != nil {
				return err
			}
			client, err := cmdutil.Authenticated(cmd.Context(), app)
			if err != nil {
				return err
			}

			statuses := make([]output.LockStatus, 0, len(keys))
			for _, key := range keys {
				statuses = append(statuses, output.NewLockStatus(key, client.Locks().Check(cmd.Context(), key)))
			}

			format := cmdutil.Format(app)
			var data any = statuses
			if format == output.FormatTable {
				data = output.LockStatusToTableData(statuses)
			}
			return output.NewFormatter(format).Format(cmd.OutOrStdout(), data)
		},
	}
}

func newAcquireCommand(app application.Application) *cobra.Command {
	var hold time.Duration

	cmd := &cobra.Command{
		Use:   "acquire <resource> <id>",
		Short: "Acquire a record's lock and hold it",
		Long: `Acquire takes the record's lock and holds it until --hold elapses or the
command is interrupted, then releases it.`,
		Args: cmdutil.RecordArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmdutil.ParseRecordArgs(args)
			ctx := cmd.Context()
			client, err := cmdutil.Authenticated(ctx, app)
			if err != nil {
				return err
			}
			w := alerts.NewFormatWriter(cmd.ErrOrStderr(), cmdutil.Format(app))

			res := client.Locks().Acquire(ctx, key)
			switch {
			case res.Unsupported():
				_ = w.WriteAlert(alerts.NewWarning(fmt.Sprintf("%s has no lock endpoint; nothing to hold", key)))
				return nil
			case !res.OK():
				return errors.NewLockError(key.String(), res.Holder.DisplayName(), false)
			}
			_ = w.WriteAlert(alerts.NewSuccess(fmt.Sprintf("Holding lock on %s", key)))

			cmdutil.Wait(ctx, hold)

			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.TeardownReleaseTimeout)
			defer cancel()
			if err := client.Locks().Release(releaseCtx, key); err != nil {
				return err
			}
			_ = w.WriteAlert(alerts.NewInfo(fmt.Sprintf("Released lock on %s", key)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&hold, "hold", 0, "how long to hold the lock (0 holds until interrupted)")
	return cmd
}

func newReleaseCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "release <resource> <id>",
		Short: "Release a lock held by the signed-in user",
		Args:  cmdutil.RecordArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmdutil.ParseRecordArgs(args)
			client, err := cmdutil.Authenticated(cmd.Context(), app)
			if err != nil {
				return err
			}
			if err := client.Locks().Release(cmd.Context(), key); err != nil {
				return err
			}
			w := alerts.NewFormatWriter(cmd.ErrOrStderr(), cmdutil.Format(app))
			return w.WriteAlert(alerts.NewSuccess(fmt.Sprintf("Released lock on %s", key)))
		},
	}
}

// parseKeys accepts either one "<resource> <id>" pair or any number of
// "<resource>/<id>" keys.
func parseKeys(args []string) ([]records.RecordKey, error) {
	if len(args) == 2 {
		if _, err := records.ParseKey(args[0]); err != nil {
			key, err := cmdutil.ParseRecordArgs(args)
			if err != nil {
				return nil, err
			}
			return []records.RecordKey{key}, nil
		}
	}
	keys := make([]records.RecordKey, 0, len(args))
	for _, arg := range args {
		key, err := records.ParseKey(arg)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Package watch implements the watch command.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/cmd/alerts"
	"github.com/clinicdesk/livesync/internal/cmd/cmdutil"
	"github.com/clinicdesk/livesync/internal/cmd/output"
	"github.com/clinicdesk/livesync/internal/realtime"
	"github.com/clinicdesk/livesync/pkg/records"
)

// NewCommand creates the watch command.
func NewCommand(app application.Application) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:     "watch [resource...]",
		GroupID: "core",
		Short:   "Stream live change events",
		Long: `Watch opens the live update channel and prints every change event for the
given resources, or for all resources when none are named. Connection
changes are reported on stderr. Reconnects follow the usual backoff.`,
		Example: `  livesync watch
  livesync watch pacientes atenciones -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := app.Client()
			if err != nil {
				return err
			}

			format := cmdutil.Format(app)
			out := cmd.OutOrStdout()
			w := alerts.NewFormatWriter(cmd.ErrOrStderr(), format)
			defer w.Close()

			client.OnConnectionChange(func(connected bool, s realtime.Session) {
				if connected {
					_ = w.WriteAlert(alerts.NewSuccess("Connected").WithDetails("epoch " + s.Epoch))
					return
				}
				_ = w.WriteAlert(alerts.NewWarning(fmt.Sprintf("Disconnected; reconnect attempt %d", s.ReconnectAttempt)))
			})

			var (
				mu     sync.Mutex
				closed bool
			)
			defer func() {
				mu.Lock()
				closed = true
				mu.Unlock()
			}()
			printEvent := func(e records.ChangeEvent) {
				mu.Lock()
				defer mu.Unlock()
				if closed {
					return
				}
				if err := output.WriteEvent(out, format, output.NewEvent(e, time.Now())); err != nil {
					app.Logger().Warn().Err(err).Msg("Failed to print event")
				}
			}

			resources := args
			if len(resources) == 0 {
				resources = []string{records.Wildcard}
			}
			for _, r := range resources {
				unsubscribe := client.Subscribe(r, printEvent)
				defer unsubscribe()
			}

			if err := client.Start(ctx); err != nil {
				return err
			}
			cmdutil.Wait(ctx, duration)
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

// Package edit implements the edit command, which runs a full edit session
// against one record: lock, hold, then save or close.
package edit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/cmd/alerts"
	"github.com/clinicdesk/livesync/internal/cmd/cmdutil"
	"github.com/clinicdesk/livesync/internal/editsession"
	"github.com/clinicdesk/livesync/internal/transport"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

// NewCommand creates the edit command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		hold time.Duration
		sets []string
	)

	cmd := &cobra.Command{
		Use:     "edit <resource> <id>",
		GroupID: "core",
		Short:   "Open a record for editing under its lock",
		Long: `Edit checks and acquires the record's lock, keeps the editor open for
--hold, then either saves the --set fields with PUT or closes the editor.
Changes other users make to the record meanwhile are reported.`,
		Example: `  livesync edit pacientes 9 --hold 1m
  livesync edit atenciones/T1 --set estado=cerrada --set prioridad=2`,
		Args: cmdutil.RecordArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmdutil.ParseRecordArgs(args)
			body, err := parseFields(sets)
			if err != nil {
				return err
			}
			return run(cmd, app, key, hold, body)
		},
	}

	cmd.Flags().DurationVar(&hold, "hold", 30*time.Second, "how long to keep the editor open (0 holds until interrupted)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value to save when the hold ends (repeatable)")

	return cmd
}

func run(cmd *cobra.Command, app application.Application, key records.RecordKey, hold time.Duration, body map[string]any) error {
	ctx := cmd.Context()
	client, err := cmdutil.Authenticated(ctx, app)
	if err != nil {
		return err
	}
	if err := client.Start(ctx); err != nil {
		return err
	}

	w := alerts.NewFormatWriter(cmd.ErrOrStderr(), cmdutil.Format(app))
	defer w.Close()
	session := client.NewEditSession(
		editsession.WithNotifier(notifier(w)),
		editsession.WithRemoteChangeHandler(func(k records.RecordKey, e records.ChangeEvent) {
			_ = w.WriteAlert(alerts.NewWarning(fmt.Sprintf("%s was %sd by another user", k, e.Kind)))
		}),
	)
	defer session.Wait()

	outcome, err := session.AttemptEdit(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			_ = w.WriteAlert(alerts.NewInfo("Editor closed"))
			return nil
		}
		return err
	}
	switch outcome.Status {
	case editsession.OutcomeBlocked:
		return errors.NewLockError(key.String(), outcome.Holder.DisplayName(), false)
	case editsession.OutcomeSuperseded:
		return errors.NewSessionError("edit", session.State(), errors.ErrCanceled)
	}

	msg := fmt.Sprintf("Editing %s", key)
	if !outcome.Locked {
		msg += " (unlocked)"
	}
	_ = w.WriteAlert(alerts.NewSuccess(msg))

	if interrupted := cmdutil.Wait(ctx, hold); interrupted {
		session.Teardown()
		_ = w.WriteAlert(alerts.NewInfo("Editor closed"))
		return nil
	}

	info, _ := session.Session()
	if len(body) == 0 || info.Deleted {
		if info.Deleted {
			_ = w.WriteAlert(alerts.NewWarning(fmt.Sprintf("%s was deleted; not saving", key)))
		}
		if err := session.CloseEditor(ctx); err != nil {
			return err
		}
		_ = w.WriteAlert(alerts.NewInfo("Editor closed"))
		return nil
	}

	if err := session.Save(ctx, put(client.Transport(), key, body)); err != nil {
		// The save failure notice is already out; close so the lock is freed
		_ = session.CloseEditor(ctx)
		return err
	}
	_ = w.WriteAlert(alerts.NewSuccess(fmt.Sprintf("Saved %s", key)))
	return nil
}

// put returns a save callback that writes body to the record.
func put(tr *transport.Client, key records.RecordKey, body map[string]any) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := tr.Put(ctx, "/"+key.Resource+"/"+key.ID, body)
		return err
	}
}

func notifier(w alerts.Writer) editsession.Notifier {
	return editsession.NotifierFunc(func(n editsession.Notice) {
		a := alerts.NewWarning(n.Message())
		if n.Kind == editsession.NoticeSaveFailed {
			a = alerts.NewError(n.Message())
		}
		_ = w.WriteAlert(a)
	})
}

// parseFields turns field=value pairs into a request body. Values that parse
// as JSON scalars keep their type; anything else is a string.
func parseFields(sets []string) (map[string]any, error) {
	body := make(map[string]any, len(sets))
	for _, s := range sets {
		field, raw, ok := strings.Cut(s, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, errors.NewValidationError("set", s, "want field=value")
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		body[field] = v
	}
	return body, nil
}

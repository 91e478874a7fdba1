// Package login implements the login command.
package login

import (
	"github.com/spf13/cobra"

	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/cmd/cmdutil"
	"github.com/clinicdesk/livesync/internal/cmd/output"
	"github.com/clinicdesk/livesync/pkg/errors"
)

// Result is what a successful login prints.
type Result struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Token    string `json:"token" yaml:"token"`
}

// NewCommand creates the login command.
func NewCommand(app application.Application) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:     "login",
		GroupID: "auth",
		Short:   "Authenticate and print the issued token",
		Long: `Login posts the username and password to the clinic API and prints the
identity and bearer token it returns. Export the token as LIVESYNC_API_TOKEN
to skip logging in on later commands.`,
		Example: `  livesync login --username alice --password secret
  export LIVESYNC_API_TOKEN=$(livesync login -o json | jq -r .token)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgUser, cfgPass := app.Credentials()
			if username == "" {
				username = cfgUser
			}
			if password == "" {
				password = cfgPass
			}
			if username == "" {
				return errors.NewValidationError("username", "", "pass --username or set LIVESYNC_USERNAME")
			}

			client, err := app.Client()
			if err != nil {
				return err
			}
			id, err := client.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			result := Result{ID: id.ID, Username: id.Name, Token: client.Token()}
			return output.NewFormatter(cmdutil.Format(app)).Format(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "username (default from LIVESYNC_USERNAME)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (default from LIVESYNC_PASSWORD)")

	return cmd
}

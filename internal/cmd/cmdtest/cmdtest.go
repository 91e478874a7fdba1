// Package cmdtest wires command tests to an in-memory clinic API.
package cmdtest

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync"
	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/internal/clinictest"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Accounts known to every test server.
var (
	Alice = clinictest.User{Identity: records.Identity{ID: "1", Name: "alice"}, Token: "tok-a", Password: "a-pass"}
	Bob   = clinictest.User{Identity: records.Identity{ID: "2", Name: "bob"}, Token: "tok-b", Password: "b-pass"}
)

// NewServer starts a clinic API that knows Alice and Bob.
func NewServer(t *testing.T) *clinictest.Server {
	t.Helper()
	server := clinictest.NewServer(t)
	server.AddUser(Alice)
	server.AddUser(Bob)
	return server
}

// NewClient returns a client for server, signed in as u when u has a token.
func NewClient(t *testing.T, server *clinictest.Server, u *clinictest.User) livesync.Client {
	t.Helper()
	opts := []livesync.Option{livesync.WithLogger(logging.NewNopLogger())}
	if u != nil {
		opts = append(opts, livesync.WithToken(u.Token), livesync.WithIdentity(u.Identity))
	}
	c, err := livesync.New(server.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

// NewApp returns an application whose client is c and whose output is format.
func NewApp(c livesync.Client, format string) *application.Mock {
	return &application.Mock{
		ClientFunc:       func() (livesync.Client, error) { return c, nil },
		OutputFormatFunc: func() string { return format },
	}
}

// Run executes cmd with args and returns stdout and stderr.
func Run(ctx context.Context, cmd *cobra.Command, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

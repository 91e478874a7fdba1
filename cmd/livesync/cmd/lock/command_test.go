package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/internal/cmd/cmdtest"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

var key = records.NewKey(records.ResourcePacientes, 9)

func TestStatus(t *testing.T) {
	server := cmdtest.NewServer(t)
	ctx := context.Background()

	bob := cmdtest.NewClient(t, server, &cmdtest.Bob)
	require.True(t, bob.Locks().Acquire(ctx, key).OK())

	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)
	stdout, _, err := cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(alice, "json")), "status", "pacientes", "9")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"record": "pacientes/9"`)
	assert.Contains(t, stdout, `"lockedBy": "bob"`)

	stdout, _, err = cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(alice, "table")), "status", "pacientes/9", "users/5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "pacientes/9")
	assert.Contains(t, stdout, "users/5")
}

func TestAcquireHoldsThenReleases(t *testing.T) {
	server := cmdtest.NewServer(t)
	ctx := context.Background()
	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)

	_, stderr, err := cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(alice, "table")), "acquire", "pacientes/9", "--hold", "20ms")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Holding lock on pacientes/9")
	assert.Contains(t, stderr, "Released lock on pacientes/9")

	_, held := server.Holder(key)
	assert.False(t, held)
	assert.Equal(t, 1, server.Hits("POST"))
	assert.Equal(t, 1, server.Hits("DELETE"))
}

func TestAcquireConflict(t *testing.T) {
	server := cmdtest.NewServer(t)
	ctx := context.Background()

	bob := cmdtest.NewClient(t, server, &cmdtest.Bob)
	require.True(t, bob.Locks().Acquire(ctx, key).OK())

	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)
	_, _, err := cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(alice, "table")), "acquire", "pacientes", "9", "--hold", "1ms")
	require.Error(t, err)
	assert.True(t, errors.IsLockConflict(err))
	assert.Contains(t, err.Error(), "bob")
}

func TestAcquireUnsupported(t *testing.T) {
	server := cmdtest.NewServer(t)
	server.Unsupported(records.ResourceRoles)
	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)

	_, stderr, err := cmdtest.Run(context.Background(), NewCommand(cmdtest.NewApp(alice, "table")), "acquire", "roles/3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "no lock endpoint")
}

func TestReleaseByNonOwnerFails(t *testing.T) {
	server := cmdtest.NewServer(t)
	ctx := context.Background()

	bob := cmdtest.NewClient(t, server, &cmdtest.Bob)
	require.True(t, bob.Locks().Acquire(ctx, key).OK())

	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)
	_, _, err := cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(alice, "table")), "release", "pacientes/9")
	require.Error(t, err)

	holder, held := server.Holder(key)
	require.True(t, held)
	assert.Equal(t, cmdtest.Bob.Identity, holder)
}

func TestBadRecordArgs(t *testing.T) {
	server := cmdtest.NewServer(t)
	alice := cmdtest.NewClient(t, server, &cmdtest.Alice)

	_, _, err := cmdtest.Run(context.Background(), NewCommand(cmdtest.NewApp(alice, "table")), "release", "pacientes")
	require.Error(t, err)
}

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/internal/cmd/cmdtest"
	"github.com/clinicdesk/livesync/pkg/records"
)

func TestWatchPrintsEvents(t *testing.T) {
	server := cmdtest.NewServer(t)
	client := cmdtest.NewClient(t, server, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for server.Connections() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		server.Broadcast(records.ChangeEvent{
			Kind:     records.EventUpdate,
			Resource: records.ResourceUsers,
			Data:     map[string]any{"id": float64(5), "name": "Ana"},
		})
		server.Broadcast(records.ChangeEvent{
			Kind:     records.EventCreate,
			Resource: records.ResourcePacientes,
			Data:     map[string]any{"id": float64(9)},
		})
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	stdout, stderr, err := cmdtest.Run(ctx, NewCommand(cmdtest.NewApp(client, "table")), "users")
	require.NoError(t, err)
	assert.Contains(t, stdout, "update")
	assert.Contains(t, stdout, "name=Ana")
	assert.NotContains(t, stdout, "pacientes", "only subscribed resources are printed")
	assert.Contains(t, stderr, "Connected")
}

func TestWatchStopsAfterDuration(t *testing.T) {
	server := cmdtest.NewServer(t)
	client := cmdtest.NewClient(t, server, nil)

	start := time.Now()
	_, _, err := cmdtest.Run(context.Background(), NewCommand(cmdtest.NewApp(client, "json")), "--for", "50ms")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

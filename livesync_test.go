package livesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/internal/clinictest"
	"github.com/clinicdesk/livesync/internal/editsession"
	"github.com/clinicdesk/livesync/internal/realtime"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

var (
	alice = records.Identity{ID: "1", Name: "alice"}
	bob   = records.Identity{ID: "2", Name: "bob"}
)

func newServer(t *testing.T) *clinictest.Server {
	t.Helper()
	server := clinictest.NewServer(t)
	server.AddUser(clinictest.User{Identity: alice, Token: "tok-a", Password: "a-pass"})
	server.AddUser(clinictest.User{Identity: bob, Token: "tok-b", Password: "b-pass"})
	return server
}

func newClient(t *testing.T, server *clinictest.Server, opts ...Option) Client {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	c, err := New(server.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("ftp://clinic.example.com")
	assert.True(t, errors.IsValidationError(err))

	_, err = New("http://clinic.example.com", WithTimeout(0))
	assert.True(t, errors.IsValidationError(err))

	_, err = New("http://clinic.example.com", WithHeartbeatInterval(-time.Second))
	assert.True(t, errors.IsValidationError(err))
}

func TestLogin(t *testing.T) {
	server := newServer(t)
	c := newClient(t, server)

	assert.False(t, c.Authenticated())

	id, err := c.Login(context.Background(), "alice", "a-pass")
	require.NoError(t, err)
	assert.Equal(t, alice, id)
	assert.True(t, c.Authenticated())

	got, ok := c.Identity()
	require.True(t, ok)
	assert.Equal(t, alice, got)
}

func TestLoginRejected(t *testing.T) {
	server := newServer(t)
	var logouts int
	c := newClient(t, server)
	c.OnLogout(func() { logouts++ })

	_, err := c.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
	assert.Contains(t, err.Error(), "Credenciales")
	assert.Zero(t, logouts, "a failed login is not a forced logout")
	assert.False(t, c.Authenticated())

	_, err = c.Login(context.Background(), "", "x")
	assert.True(t, errors.IsValidationError(err))
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	server := newServer(t)
	var mu sync.Mutex
	var logouts int
	c := newClient(t, server, WithToken("revoked"), WithIdentity(alice))
	c.OnLogout(func() {
		mu.Lock()
		logouts++
		mu.Unlock()
	})
	require.True(t, c.Authenticated())

	_, err := c.Transport().Get(context.Background(), records.NewKey("users", 5).LockPath())
	require.Error(t, err)
	assert.True(t, errors.IsUnauthorized(err))
	assert.False(t, c.Authenticated())

	mu.Lock()
	assert.Equal(t, 1, logouts)
	mu.Unlock()
}

func TestLogout(t *testing.T) {
	server := newServer(t)
	c := newClient(t, server, WithToken("tok-a"), WithIdentity(alice))

	fired := false
	c.OnLogout(func() { fired = true })
	c.Logout()

	assert.True(t, fired)
	assert.False(t, c.Authenticated())
	_, ok := c.Identity()
	assert.False(t, ok)
}

func TestLiveUpdatesReachSubscribersAndCache(t *testing.T) {
	server := newServer(t)
	c := newClient(t, server, WithToken("tok-a"), WithIdentity(alice))

	connected := make(chan realtime.Session, 4)
	c.OnConnectionChange(func(up bool, s realtime.Session) {
		if up {
			connected <- s
		}
	})

	received := make(chan records.ChangeEvent, 4)
	unsubscribe := c.Subscribe(records.ResourcePacientes, func(e records.ChangeEvent) {
		received <- e
	})
	defer unsubscribe()

	require.NoError(t, c.Start(context.Background()))
	select {
	case s := <-connected:
		assert.NotEmpty(t, s.Epoch)
	case <-time.After(5 * time.Second):
		t.Fatal("channel never opened")
	}
	assert.True(t, c.IsConnected())
	require.Eventually(t, func() bool { return server.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	event := records.ChangeEvent{
		Kind:     records.EventCreate,
		Resource: records.ResourcePacientes,
		Data:     map[string]any{"id": float64(9), "nombre": "Ana"},
	}
	server.Broadcast(event)

	select {
	case got := <-received:
		assert.Equal(t, "9", got.RecordID())
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	last, ok := c.LastMessage()
	require.True(t, ok)
	assert.Equal(t, records.EventCreate, last.Kind)

	require.NotNil(t, c.Records())
	assert.Eventually(t, func() bool {
		rec, ok := c.Records().Get(records.NewKey(records.ResourcePacientes, 9))
		return ok && rec["nombre"] == "Ana"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecordCacheDisabled(t *testing.T) {
	server := newServer(t)
	c := newClient(t, server, WithRecordCache(false))
	assert.Nil(t, c.Records())
}

func TestEditSessionThroughClient(t *testing.T) {
	server := newServer(t)
	ctx := context.Background()

	a := newClient(t, server)
	_, err := a.Login(ctx, "alice", "a-pass")
	require.NoError(t, err)

	var notices []editsession.Notice
	b := newClient(t, server, WithNotifier(editsession.NotifierFunc(func(n editsession.Notice) {
		notices = append(notices, n)
	})))
	_, err = b.Login(ctx, "bob", "b-pass")
	require.NoError(t, err)

	key := records.NewKey(records.ResourceAtenciones, "T1")

	sa := a.NewEditSession()
	out, err := sa.AttemptEdit(ctx, key)
	require.NoError(t, err)
	require.Equal(t, editsession.OutcomeEditing, out.Status)

	sb := b.NewEditSession()
	out, err = sb.AttemptEdit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, editsession.OutcomeBlocked, out.Status)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Message(), "alice")

	require.NoError(t, sa.Save(ctx, func(context.Context) error { return nil }))

	out, err = sb.AttemptEdit(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, editsession.OutcomeEditing, out.Status)
	holder, held := server.Holder(key)
	require.True(t, held)
	assert.Equal(t, bob, holder)
}

func TestStopReleasesHeldLocks(t *testing.T) {
	server := newServer(t)
	ctx := context.Background()
	c := newClient(t, server, WithToken("tok-a"), WithIdentity(alice))

	k1 := records.NewKey(records.ResourceUsers, 1)
	k2 := records.NewKey(records.ResourcePacientes, 2)
	require.True(t, c.Locks().Acquire(ctx, k1).OK())
	require.True(t, c.Locks().Acquire(ctx, k2).OK())

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))

	_, held := server.Holder(k1)
	assert.False(t, held)
	_, held = server.Holder(k2)
	assert.False(t, held)
	assert.Empty(t, c.Locks().Held())

	require.NoError(t, c.Stop(ctx), "stop is idempotent")
	assert.ErrorIs(t, c.Start(ctx), errors.ErrStopped)
	assert.False(t, c.IsConnected())
}

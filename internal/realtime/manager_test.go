package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// fakeScheduler captures reconnect timers so tests decide when they fire.
type fakeScheduler struct {
	mu        sync.Mutex
	pending   func()
	cancelled bool
	delays    chan time.Duration
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{delays: make(chan time.Duration, 32)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	s.pending = f
	s.cancelled = false
	s.mu.Unlock()
	s.delays <- d
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.cancelled = true
		return s.pending != nil
	}
}

func (s *fakeScheduler) fire() {
	s.mu.Lock()
	f := s.pending
	s.pending = nil
	s.mu.Unlock()
	if f != nil {
		f()
	}
}

func (s *fakeScheduler) next(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-s.delays:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect scheduled")
		return 0
	}
}

func (s *fakeScheduler) none(t *testing.T) {
	t.Helper()
	select {
	case d := <-s.delays:
		t.Fatalf("unexpected reconnect scheduled after %s", d)
	case <-time.After(100 * time.Millisecond):
	}
}

// channelServer upgrades requests and hands each connection to serve.
func channelServer(t *testing.T, serve func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/updates", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func endpointFor(t *testing.T, server *httptest.Server) string {
	t.Helper()
	endpoint, err := Endpoint(server.URL)
	require.NoError(t, err)
	return endpoint
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:48555", "ws://localhost:48555/ws/updates"},
		{"https://clinic.example.com/api/", "wss://clinic.example.com/api/ws/updates"},
		{"ws://10.0.0.5:8000", "ws://10.0.0.5:8000/ws/updates"},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.base)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Endpoint("ftp://clinic.example.com")
	assert.Error(t, err)
	_, err = Endpoint("http://")
	assert.Error(t, err)
}

func TestDefaultBackoffSequence(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30, 30, 30}
	for i, seconds := range want {
		assert.Equal(t, seconds*time.Second, b.NextBackOff(), "attempt %d", i+1)
	}
	assert.Equal(t, time.Duration(-1), b.NextBackOff())
}

func TestDeliversChangeEvents(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"explode","resource":"users","data":{}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"update","resource":"pacientes","data":{"id":7}}`))
		_, _, _ = conn.ReadMessage()
	})

	received := make(chan records.ChangeEvent, 4)
	logger := logging.NewTestLogger(t)
	m := New(endpointFor(t, server), func(e records.ChangeEvent) { received <- e },
		WithLogger(logger.Logger),
		WithScheduler(newFakeScheduler().AfterFunc))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	select {
	case e := <-received:
		assert.Equal(t, records.EventUpdate, e.Kind)
		assert.Equal(t, "pacientes", e.Resource)
		assert.Equal(t, "7", e.RecordID())
	case <-time.After(2 * time.Second):
		t.Fatal("change event not delivered")
	}

	assert.True(t, m.IsConnected())
	last, ok := m.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "pacientes", last.Resource)
	assert.Empty(t, received)
	assert.Equal(t, 2, strings.Count(logger.Output(), "Dropping invalid realtime frame"))
}

func TestHeartbeat(t *testing.T) {
	pings := make(chan string, 4)
	server := channelServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			pings <- string(data)
		}
	})

	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithHeartbeatInterval(20*time.Millisecond),
		WithScheduler(newFakeScheduler().AfterFunc))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	select {
	case frame := <-pings:
		assert.Equal(t, "ping", frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestReconnectAfterCloseThenDoubles(t *testing.T) {
	var upgrades atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upgrades.Add(1) > 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer server.Close()

	sched := newFakeScheduler()
	var sessions []Session
	var hookMu sync.Mutex
	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithScheduler(sched.AfterFunc),
		WithStateHook(func(s Session) {
			hookMu.Lock()
			sessions = append(sessions, s)
			hookMu.Unlock()
		}))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	assert.Equal(t, time.Second, sched.next(t))
	assert.Equal(t, 1, m.Session().ReconnectAttempt)
	assert.False(t, m.IsConnected())

	sched.fire()
	assert.Equal(t, 2*time.Second, sched.next(t))
	assert.Equal(t, 2, m.Session().ReconnectAttempt)

	hookMu.Lock()
	defer hookMu.Unlock()
	var sawOpen bool
	for _, s := range sessions {
		if s.Status == StatusOpen {
			sawOpen = true
			assert.NotEmpty(t, s.Epoch)
		}
	}
	assert.True(t, sawOpen)
}

func TestGivesUpAfterTenAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	sched := newFakeScheduler()
	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithScheduler(sched.AfterFunc))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30, 30, 30}
	for i, seconds := range want {
		assert.Equal(t, seconds*time.Second, sched.next(t), "attempt %d", i+1)
		sched.fire()
	}
	sched.none(t)
	assert.Equal(t, StatusClosed, m.Session().Status)
	assert.Equal(t, 10, m.Session().ReconnectAttempt)
}

func TestBackoffResetsOnOpen(t *testing.T) {
	server := channelServer(t, func(conn *websocket.Conn) {})

	sched := newFakeScheduler()
	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithScheduler(sched.AfterFunc))
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	for i := 0; i < 3; i++ {
		assert.Equal(t, time.Second, sched.next(t))
		sched.fire()
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	var dials atomic.Int32
	sched := newFakeScheduler()
	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithScheduler(sched.AfterFunc),
		WithDialer(countingDialer{dialer: websocket.DefaultDialer, count: &dials}))
	require.NoError(t, m.Start(context.Background()))

	sched.next(t)
	m.Stop()
	m.Stop()

	sched.mu.Lock()
	assert.True(t, sched.cancelled)
	sched.mu.Unlock()

	sched.fire()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
	assert.False(t, m.IsConnected())
	assert.ErrorIs(t, m.Start(context.Background()), errors.ErrStopped)
}

func TestStopClosesOpenChannel(t *testing.T) {
	closed := make(chan struct{})
	server := channelServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	})

	opened := make(chan struct{}, 1)
	m := New(endpointFor(t, server), nil,
		WithLogger(logging.NewNopLogger()),
		WithScheduler(newFakeScheduler().AfterFunc),
		WithStateHook(func(s Session) {
			if s.Status == StatusOpen {
				opened <- struct{}{}
			}
		}))
	require.NoError(t, m.Start(context.Background()))

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not open")
	}

	m.Stop()
	assert.False(t, m.IsConnected())
	assert.Equal(t, StatusClosed, m.Session().Status)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe close")
	}
}

type countingDialer struct {
	dialer *websocket.Dialer
	count  *atomic.Int32
}

func (d countingDialer) DialContext(ctx context.Context, urlStr string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.count.Add(1)
	return d.dialer.DialContext(ctx, urlStr, h)
}

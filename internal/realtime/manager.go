// Package realtime maintains the process-wide push channel to the clinic
// server. It reconnects with exponential backoff, keeps the channel alive
// with a heartbeat, and hands every decoded change event to a handler.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Status is the state of the channel.
type Status string

// Channel states.
const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// Session is a snapshot of the connection lifecycle.
type Session struct {
	Status           Status `json:"status"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
	Epoch            string `json:"epoch,omitempty"`
}

// Handler receives each valid change event in arrival order.
type Handler func(event records.ChangeEvent)

// Dialer opens websocket connections. *websocket.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Manager owns at most one open channel at a time.
type Manager struct {
	endpoint  string
	handler   Handler
	dialer    Dialer
	header    http.Header
	heartbeat time.Duration
	backoff   backoff.BackOff
	schedule  Scheduler
	hooks     []func(Session)
	logger    *zerolog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	stopped   bool
	status    Status
	attempt   int
	epoch     string
	conn      *websocket.Conn
	stopTimer func() bool
	last      *records.ChangeEvent

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a manager for endpoint. Nothing is dialed until Start.
func New(endpoint string, handler Handler, opts ...Option) *Manager {
	m := &Manager{
		endpoint: endpoint,
		handler:  handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: constants.DialTimeout,
		},
		heartbeat: constants.HeartbeatInterval,
		schedule:  AfterFunc,
		status:    StatusClosed,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.backoff == nil {
		m.backoff = DefaultBackoff()
	}
	if m.handler == nil {
		m.handler = func(records.ChangeEvent) {}
	}
	return m
}

// Start opens the first connection in the background. The manager keeps
// reconnecting until ctx is cancelled, Stop is called, or the backoff
// policy gives up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.ErrStopped
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	m.mu.Unlock()

	go m.connect()
	return nil
}

// Stop cancels any pending reconnect, closes the channel, and waits for the
// connection goroutines to exit. It is safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.stopTimer != nil {
		m.stopTimer()
		m.stopTimer = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		_ = conn.Close()
	}

	m.wg.Wait()
	m.setStatus(StatusClosed)
	m.logger.Info().Str("endpoint", m.endpoint).Msg("Realtime channel stopped")
}

// IsConnected reports whether the channel is open.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusOpen
}

// LastMessage returns the most recent valid change event.
func (m *Manager) LastMessage() (records.ChangeEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return records.ChangeEvent{}, false
	}
	return *m.last, true
}

// Session returns a snapshot of the connection state.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionLocked()
}

func (m *Manager) sessionLocked() Session {
	return Session{Status: m.status, ReconnectAttempt: m.attempt, Epoch: m.epoch}
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	changed := m.status != status
	m.status = status
	session := m.sessionLocked()
	m.mu.Unlock()

	if changed {
		m.notify(session)
	}
}

func (m *Manager) notify(session Session) {
	for _, hook := range m.hooks {
		hook(session)
	}
}

// connect dials once and, on success, serves the connection until it
// closes. Every exit path that is not a stop schedules the next attempt.
func (m *Manager) connect() {
	defer m.wg.Done()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	attempt := m.attempt
	m.mu.Unlock()

	m.setStatus(StatusConnecting)
	m.logger.Debug().
		Str("endpoint", m.endpoint).
		Int("attempt", attempt).
		Msg("Connecting realtime channel")

	dialCtx, cancel := context.WithTimeout(ctx, constants.DialTimeout)
	conn, resp, err := m.dialer.DialContext(dialCtx, m.endpoint, m.header)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("endpoint", m.endpoint).
			Int("attempt", attempt).
			Msg("Realtime dial failed")
		m.setStatus(StatusClosed)
		m.reconnect()
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.status = StatusOpen
	m.attempt = 0
	m.epoch = ulid.Make().String()
	m.backoff.Reset()
	session := m.sessionLocked()
	m.mu.Unlock()

	log := m.logger.With().Str("epoch", session.Epoch).Logger()
	log.Info().Str("endpoint", m.endpoint).Msg("Realtime channel open")
	m.notify(session)

	done := make(chan struct{})
	m.wg.Add(1)
	go m.heartbeatLoop(ctx, conn, done, &log)

	m.readLoop(conn, &log)
	close(done)

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	stopped := m.stopped
	m.mu.Unlock()
	_ = conn.Close()

	log.Info().Msg("Realtime channel closed")
	if stopped {
		return
	}
	m.setStatus(StatusClosed)
	m.reconnect()
}

// reconnect schedules the next attempt, or gives up silently once the
// backoff policy is exhausted.
func (m *Manager) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.ctx.Err() != nil {
		return
	}

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		m.logger.Warn().
			Int("attempt", m.attempt).
			Msg("Realtime reconnect attempts exhausted")
		return
	}

	m.attempt++
	attempt := m.attempt
	m.logger.Info().
		Dur("delay", delay).
		Int("attempt", attempt).
		Msg("Scheduling realtime reconnect")

	m.stopTimer = m.schedule(delay, func() {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.stopTimer = nil
		m.wg.Add(1)
		m.mu.Unlock()
		go m.connect()
	})
}

func (m *Manager) readLoop(conn *websocket.Conn, log *zerolog.Logger) {
	conn.SetReadLimit(constants.MaxFrameSize)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Realtime read ended")
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m.handleFrame(data, log)
	}
}

func (m *Manager) handleFrame(data []byte, log *zerolog.Logger) {
	if string(data) == constants.PongFrame {
		return
	}

	var event records.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warn().
			Err(errors.WrapParse("json", "frame", err)).
			Int("size", len(data)).
			Msg("Dropping invalid realtime frame")
		return
	}
	if err := event.Validate(); err != nil {
		log.Warn().Err(err).Msg("Dropping invalid realtime frame")
		return
	}

	m.mu.Lock()
	m.last = &event
	m.mu.Unlock()

	log.Debug().
		Str("event", string(event.Kind)).
		Str("resource", event.Resource).
		Str("record_id", event.RecordID()).
		Msg("Change event received")

	m.handler(event)
}

func (m *Manager) heartbeatLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, log *zerolog.Logger) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
			err := conn.WriteMessage(websocket.TextMessage, []byte(constants.PingFrame))
			m.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("Heartbeat write failed")
				return
			}
		}
	}
}

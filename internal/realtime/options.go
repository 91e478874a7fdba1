package realtime

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/pkg/constants"
)

// Scheduler runs f once after d and returns a function that cancels it.
// time.AfterFunc satisfies it through AfterFunc.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// AfterFunc schedules with the runtime timer.
func AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(dialer Dialer) Option {
	return func(m *Manager) {
		if dialer != nil {
			m.dialer = dialer
		}
	}
}

// WithHeader adds headers to the opening handshake.
func WithHeader(header http.Header) Option {
	return func(m *Manager) {
		m.header = header.Clone()
	}
}

// WithHeartbeatInterval sets how often a ping frame is sent while open.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeat = d
		}
	}
}

// WithBackoff replaces the reconnect policy. The policy returns
// backoff.Stop once reconnecting should be abandoned.
func WithBackoff(b backoff.BackOff) Option {
	return func(m *Manager) {
		if b != nil {
			m.backoff = b
		}
	}
}

// WithScheduler replaces the timer used to schedule reconnects.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		if s != nil {
			m.schedule = s
		}
	}
}

// WithStateHook registers fn to be called after every status change.
func WithStateHook(fn func(Session)) Option {
	return func(m *Manager) {
		m.hooks = append(m.hooks, fn)
	}
}

// DefaultBackoff doubles from one second up to thirty seconds and gives
// up after ten reconnect attempts.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = constants.ReconnectBaseDelay
	b.Multiplier = constants.ReconnectMultiplier
	b.MaxInterval = constants.ReconnectMaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, constants.MaxReconnectAttempts)
}

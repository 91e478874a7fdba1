package livesync

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync/internal/editsession"
	"github.com/clinicdesk/livesync/internal/realtime"
	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

// config holds the configuration for a Client.
type config struct {
	logger        *zerolog.Logger
	httpClient    *http.Client
	timeout       time.Duration
	token         string
	identity      *records.Identity
	loginPath     string
	heartbeat     time.Duration
	backoff       backoff.BackOff
	scheduler     realtime.Scheduler
	dialer        realtime.Dialer
	channelHeader http.Header
	recordCache   bool
	cacheTTL      time.Duration
	notifier      editsession.Notifier
}

func defaultConfig() *config {
	return &config{
		timeout:     constants.DefaultHTTPTimeout,
		loginPath:   constants.LoginPath,
		heartbeat:   constants.HeartbeatInterval,
		recordCache: true,
		cacheTTL:    constants.RecordCacheTTL,
	}
}

// Option is a function that configures a Client.
type Option func(*config) error

// WithLogger sets the logger shared by every component.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request API timeout. It must be positive; lock
// calls rely on it to fail open instead of hanging.
func WithTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.NewValidationError("timeout", d, "must be positive")
		}
		c.timeout = d
		return nil
	}
}

// WithToken starts the client already authenticated. The identity is
// taken from the token's claims unless WithIdentity is also given.
func WithToken(token string) Option {
	return func(c *config) error {
		c.token = token
		return nil
	}
}

// WithIdentity sets the identity that owns the token given by WithToken.
func WithIdentity(id records.Identity) Option {
	return func(c *config) error {
		c.identity = &id
		return nil
	}
}

// WithLoginPath changes the authentication endpoint.
func WithLoginPath(path string) Option {
	return func(c *config) error {
		c.loginPath = path
		return nil
	}
}

// WithHeartbeatInterval sets how often the channel is probed while open.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.NewValidationError("heartbeat", d, "must be positive")
		}
		c.heartbeat = d
		return nil
	}
}

// WithReconnectBackoff replaces the reconnect policy.
func WithReconnectBackoff(b backoff.BackOff) Option {
	return func(c *config) error {
		c.backoff = b
		return nil
	}
}

// WithScheduler replaces the timer used for reconnects.
func WithScheduler(s realtime.Scheduler) Option {
	return func(c *config) error {
		c.scheduler = s
		return nil
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d realtime.Dialer) Option {
	return func(c *config) error {
		c.dialer = d
		return nil
	}
}

// WithChannelHeader adds headers to the channel handshake.
func WithChannelHeader(h http.Header) Option {
	return func(c *config) error {
		c.channelHeader = h
		return nil
	}
}

// WithRecordCache toggles the local record mirror.
func WithRecordCache(enabled bool) Option {
	return func(c *config) error {
		c.recordCache = enabled
		return nil
	}
}

// WithRecordCacheTTL sets how long mirrored records live without updates.
func WithRecordCacheTTL(ttl time.Duration) Option {
	return func(c *config) error {
		c.cacheTTL = ttl
		return nil
	}
}

// WithNotifier sets the default notifier for edit sessions.
func WithNotifier(n editsession.Notifier) Option {
	return func(c *config) error {
		c.notifier = n
		return nil
	}
}

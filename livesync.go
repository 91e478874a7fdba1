// Package livesync is the collaborative editing layer of the clinic panel.
// It keeps a live channel to the server, routes change events to screens,
// coordinates advisory record locks, and puts one authenticated HTTP path
// under all of it.
//
// Example usage:
//
//	client, err := livesync.New("https://clinic.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := client.Login(ctx, "alice", "secret"); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Stop(context.Background())
//
//	// Follow patient changes
//	unsubscribe := client.Subscribe("pacientes", func(e records.ChangeEvent) {
//	    log.Printf("%s %s/%s", e.Kind, e.Resource, e.RecordID())
//	})
//	defer unsubscribe()
//
//	// Edit a record under a lock
//	session := client.NewEditSession()
//	outcome, err := session.AttemptEdit(ctx, records.NewKey("atenciones", "T1"))
//	if err == nil && outcome.Status == editsession.OutcomeEditing {
//	    err = session.Save(ctx, saveAttention)
//	}
package livesync

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinicdesk/livesync/internal/auth"
	"github.com/clinicdesk/livesync/internal/cache"
	"github.com/clinicdesk/livesync/internal/editsession"
	"github.com/clinicdesk/livesync/internal/events"
	"github.com/clinicdesk/livesync/internal/locks"
	"github.com/clinicdesk/livesync/internal/realtime"
	"github.com/clinicdesk/livesync/internal/transport"
	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/logging"
	"github.com/clinicdesk/livesync/pkg/records"
)

// Client is the process-wide collaborative editing layer.
type Client interface {
	// Start opens the live channel. Updates arrive in the background.
	Start(ctx context.Context) error

	// Stop releases held locks best-effort and closes the channel.
	Stop(ctx context.Context) error

	// Subscribe registers fn for change events of resource, or of every
	// resource when resource is records.Wildcard.
	Subscribe(resource string, fn func(records.ChangeEvent)) func()

	// Locks returns the lock client.
	Locks() *locks.Client

	// NewEditSession creates a coordinator acting as the signed-in user.
	NewEditSession(opts ...editsession.Option) *editsession.Coordinator

	// Login authenticates and stores the credential.
	Login(ctx context.Context, username, password string) (records.Identity, error)

	// Logout drops the credential.
	Logout()

	// Identity returns the signed-in user.
	Identity() (records.Identity, bool)

	// Authenticated reports whether a usable credential is stored.
	Authenticated() bool

	// Token returns the stored bearer token, or "" when none is usable.
	Token() string

	// IsConnected reports whether the channel is open.
	IsConnected() bool

	// LastMessage returns the latest change event received.
	LastMessage() (records.ChangeEvent, bool)

	// Session returns the channel state.
	Session() realtime.Session

	// Records returns the local record mirror, or nil when disabled.
	Records() *cache.Cache

	// Transport returns the authenticated API client.
	Transport() *transport.Client

	// OnLogout registers a callback for sign-outs.
	OnLogout(LogoutHook)

	// OnConnectionChange registers a callback for channel open and close.
	OnConnectionChange(ConnectionHook)
}

// client is the internal implementation of the Client interface
type client struct {
	config *config
	hooks  *hooks

	creds      *auth.Store
	transport  *transport.Client
	dispatcher *events.Dispatcher
	channel    *realtime.Manager
	locks      *locks.Client
	records    *cache.Cache

	mu      sync.Mutex
	stopped bool
}

// New creates a client for the clinic API at baseURL.
func New(baseURL string, opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = logging.Default()
	}

	c := &client{
		config:     cfg,
		hooks:      newHooks(),
		creds:      auth.NewStore(),
		dispatcher: events.New(cfg.logger),
	}

	if cfg.token != "" {
		if err := c.creds.Set(cfg.token, cfg.identity); err != nil {
			return nil, fmt.Errorf("storing token: %w", err)
		}
	}

	tOpts := []transport.Option{
		transport.WithTimeout(cfg.timeout),
		transport.WithCredentials(c.creds),
		transport.WithUnauthorizedHandler(c.hooks.triggerLogout),
		transport.WithLoginPath(cfg.loginPath),
		transport.WithLogger(cfg.logger),
	}
	if cfg.httpClient != nil {
		tOpts = append([]transport.Option{transport.WithHTTPClient(cfg.httpClient)}, tOpts...)
	}
	tr, err := transport.New(baseURL, tOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	c.transport = tr

	endpoint, err := realtime.Endpoint(baseURL)
	if err != nil {
		return nil, fmt.Errorf("deriving channel endpoint: %w", err)
	}
	rOpts := []realtime.Option{
		realtime.WithLogger(cfg.logger),
		realtime.WithHeartbeatInterval(cfg.heartbeat),
		realtime.WithStateHook(c.hooks.triggerSession),
	}
	if cfg.backoff != nil {
		rOpts = append(rOpts, realtime.WithBackoff(cfg.backoff))
	}
	if cfg.scheduler != nil {
		rOpts = append(rOpts, realtime.WithScheduler(cfg.scheduler))
	}
	if cfg.dialer != nil {
		rOpts = append(rOpts, realtime.WithDialer(cfg.dialer))
	}
	if cfg.channelHeader != nil {
		rOpts = append(rOpts, realtime.WithHeader(cfg.channelHeader))
	}
	c.channel = realtime.New(endpoint, c.dispatcher.Dispatch, rOpts...)

	c.locks = locks.New(tr, locks.WithLogger(cfg.logger))

	if cfg.recordCache {
		c.records = cache.New(cfg.cacheTTL, constants.CacheCleanupInterval)
		c.dispatcher.Subscribe(records.Wildcard, c.records)
	}

	return c, nil
}

// Subscribe registers fn for change events of resource.
func (c *client) Subscribe(resource string, fn func(records.ChangeEvent)) func() {
	return c.dispatcher.SubscribeFunc(resource, fn)
}

// Locks returns the lock client.
func (c *client) Locks() *locks.Client {
	return c.locks
}

// NewEditSession creates a coordinator for the signed-in user that tracks
// remote changes through the dispatcher.
func (c *client) NewEditSession(opts ...editsession.Option) *editsession.Coordinator {
	identity, _ := c.creds.Identity()
	base := []editsession.Option{
		editsession.WithSubscriber(c.dispatcher),
		editsession.WithLogger(c.config.logger),
	}
	if c.config.notifier != nil {
		base = append(base, editsession.WithNotifier(c.config.notifier))
	}
	return editsession.New(c.locks, identity, append(base, opts...)...)
}

// IsConnected reports whether the channel is open.
func (c *client) IsConnected() bool {
	return c.channel.IsConnected()
}

// LastMessage returns the latest change event received.
func (c *client) LastMessage() (records.ChangeEvent, bool) {
	return c.channel.LastMessage()
}

// Session returns the channel state.
func (c *client) Session() realtime.Session {
	return c.channel.Session()
}

// Records returns the local record mirror.
func (c *client) Records() *cache.Cache {
	return c.records
}

// Transport returns the authenticated API client.
func (c *client) Transport() *transport.Client {
	return c.transport
}

// OnLogout registers a callback for sign-outs.
func (c *client) OnLogout(fn LogoutHook) {
	c.hooks.OnLogout(fn)
}

// OnConnectionChange registers a callback for channel open and close.
func (c *client) OnConnectionChange(fn ConnectionHook) {
	c.hooks.OnConnectionChange(fn)
}

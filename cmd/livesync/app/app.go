// Package app provides the application context and dependency management
// for the livesync CLI. It centralizes configuration, logging, and the
// lifecycle of the live sync client.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/livesync"
	"github.com/clinicdesk/livesync/cmd/application"
	"github.com/clinicdesk/livesync/pkg/errors"
)

// App represents the livesync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	config *Config
	logger *zerolog.Logger

	// Client instance (lazy-initialized, singleton)
	mu     sync.RWMutex
	client livesync.Client
}

// New creates a new App instance with the given version information.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Credentials returns the configured username and password.
func (a *App) Credentials() (string, string) {
	return a.config.Username, a.config.Password
}

// Client returns the live sync client, creating it lazily if needed.
func (a *App) Client() (livesync.Client, error) {
	a.mu.RLock()
	if a.client != nil {
		c := a.client
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return a.client, nil
	}

	c, err := livesync.New(a.config.APIURL, a.clientOptions()...)
	if err != nil {
		return nil, errors.WrapResource("create", "client", a.config.APIURL, err)
	}
	a.client = c
	return c, nil
}

// Shutdown releases held locks and closes the live channel.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.RLock()
	c := a.client
	a.mu.RUnlock()

	if c == nil {
		return nil
	}
	return c.Stop(ctx)
}

// clientOptions constructs client options from the app configuration.
func (a *App) clientOptions() []livesync.Option {
	opts := []livesync.Option{
		livesync.WithLogger(a.logger),
		livesync.WithTimeout(a.config.Timeout),
		livesync.WithHeartbeatInterval(a.config.Heartbeat),
	}
	if a.config.APIToken != "" {
		opts = append(opts, livesync.WithToken(a.config.APIToken))
	}
	return opts
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithClient sets a custom client (useful for testing).
func WithClient(c livesync.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}

// Ensure App implements application.Application at compile time.
var _ application.Application = (*App)(nil)

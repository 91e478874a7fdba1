// Package constants provides shared constants used throughout the livesync codebase.
// This includes timeouts, heartbeat and reconnect parameters, wire paths, and other
// values that must agree between the CLI and the library.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the transport timeout for REST and lock calls.
	// Lock operations impose no timeout of their own, so this must stay finite.
	DefaultHTTPTimeout = 30 * time.Second

	// DialTimeout bounds the websocket handshake
	DialTimeout = 10 * time.Second

	// WriteTimeout bounds a single websocket frame write
	WriteTimeout = 10 * time.Second

	// TeardownReleaseTimeout bounds the fire-and-forget release sent on teardown
	TeardownReleaseTimeout = 5 * time.Second

	// ShutdownTimeout is how long the CLI waits for a graceful stop
	ShutdownTimeout = 5 * time.Second
)

// Realtime channel constants
const (
	// HeartbeatInterval is the period between liveness probes while the channel is open
	HeartbeatInterval = 30 * time.Second

	// ReconnectBaseDelay is the delay before the first reconnect attempt
	ReconnectBaseDelay = 1 * time.Second

	// ReconnectMaxDelay caps the exponential reconnect delay
	ReconnectMaxDelay = 30 * time.Second

	// ReconnectMultiplier is the growth factor between consecutive reconnect delays
	ReconnectMultiplier = 2.0

	// MaxReconnectAttempts is the number of consecutive failures after which reconnection stops
	MaxReconnectAttempts = 10

	// MaxFrameSize is the largest inbound frame accepted from the server
	MaxFrameSize = 1 << 20
)

// Wire constants
const (
	// ChannelPath is appended to the API base URL to reach the event channel
	ChannelPath = "/ws/updates"

	// PingFrame is the outbound liveness probe
	PingFrame = "ping"

	// PongFrame is the reply to PingFrame and is never dispatched
	PongFrame = "pong"

	// LoginPath is the authentication endpoint; 401s from it never force a logout
	LoginPath = "/auth/login"

	// LockSuffix is appended to a record path to address its lock
	LockSuffix = "lock"
)

// Cache constants
const (
	// RecordCacheTTL is how long a mirrored record survives without being touched
	RecordCacheTTL = 30 * time.Minute

	// CacheCleanupInterval is how often expired cache entries are removed
	CacheCleanupInterval = 5 * time.Minute
)

// File permission constants define standard Unix file permissions
const (
	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Default values
const (
	// DefaultAPIURL is the API base used when nothing is configured
	DefaultAPIURL = "http://localhost:48555"

	// UnknownHolderName is shown when a lock holder could not be identified
	UnknownHolderName = "another user"
)

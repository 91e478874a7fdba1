package livesync

import (
	"sync"

	"github.com/clinicdesk/livesync/internal/realtime"
)

// Hook function types for client events
type (
	// LogoutHook is called when the credential is dropped, either by
	// Logout or because the server rejected it.
	LogoutHook func()

	// ConnectionHook is called when the channel opens or closes.
	ConnectionHook func(connected bool, session realtime.Session)
)

// hooks manages event callbacks
type hooks struct {
	mu           sync.RWMutex
	onLogout     []LogoutHook
	onConnection []ConnectionHook
	connected    bool
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnLogout registers a callback for sign-outs
func (h *hooks) OnLogout(fn LogoutHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLogout = append(h.onLogout, fn)
}

// OnConnectionChange registers a callback for channel open and close
func (h *hooks) OnConnectionChange(fn ConnectionHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnection = append(h.onConnection, fn)
}

func (h *hooks) triggerLogout() {
	h.mu.RLock()
	fns := append([]LogoutHook(nil), h.onLogout...)
	h.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// triggerSession fires connection hooks only when connectivity flips;
// intermediate connecting states are not reported.
func (h *hooks) triggerSession(session realtime.Session) {
	connected := session.Status == realtime.StatusOpen

	h.mu.Lock()
	if connected == h.connected {
		h.mu.Unlock()
		return
	}
	h.connected = connected
	fns := append([]ConnectionHook(nil), h.onConnection...)
	h.mu.Unlock()

	for _, fn := range fns {
		fn(connected, session)
	}
}

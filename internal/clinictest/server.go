// Package clinictest runs an in-memory stand-in for the clinic API: login,
// per-record lock endpoints, and the realtime change channel. It exists for
// tests and mirrors the server's observable behaviour, not its internals.
package clinictest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/clinicdesk/livesync/pkg/records"
)

// DefaultLockTTL matches the server's lock lifetime.
const DefaultLockTTL = 300 * time.Second

// User is an account known to the server.
type User struct {
	Identity records.Identity
	Token    string
	Password string
}

type lockEntry struct {
	holder    records.Identity
	lockedAt  time.Time
	expiresAt time.Time
}

// Server is an httptest server speaking the clinic API.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]User // by token
	locks       map[records.RecordKey]lockEntry
	unsupported map[string]bool
	ttl         time.Duration
	hits        map[string]int
	hold        chan struct{}
	data        map[records.RecordKey]map[string]any

	upgrader websocket.Upgrader
	connMu   sync.Mutex
	conns    map[*websocket.Conn]bool
	pings    int
}

// NewServer starts a server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		users:       make(map[string]User),
		locks:       make(map[records.RecordKey]lockEntry),
		unsupported: make(map[string]bool),
		ttl:         DefaultLockTTL,
		hits:        make(map[string]int),
		data:        make(map[records.RecordKey]map[string]any),
		conns:       make(map[*websocket.Conn]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.route))
	t.Cleanup(func() {
		s.CloseChannels()
		s.Server.Close()
	})
	return s
}

// AddUser registers an account.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Token] = u
}

// Unsupported makes the lock endpoints of resource answer 404.
func (s *Server) Unsupported(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsupported[resource] = true
}

// SetLockTTL changes how long new locks live.
func (s *Server) SetLockTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// HoldLocks makes lock requests wait until the returned function is called.
func (s *Server) HoldLocks() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.hold = nil
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Holder returns the current holder of key.
func (s *Server) Holder(key records.RecordKey) (records.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[key]
	if !ok || !time.Now().Before(e.expiresAt) {
		return records.Identity{}, false
	}
	return e.holder, true
}

// Record returns the fields last saved for key with PUT.
func (s *Server) Record(key records.RecordKey) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[key]
	return rec, ok
}

// Hits returns how many requests with method reached the lock endpoints.
func (s *Server) Hits(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method]
}

// Pings returns how many heartbeat frames the channel received.
func (s *Server) Pings() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.pings
}

// Connections returns the number of open channel connections.
func (s *Server) Connections() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return len(s.conns)
}

// Broadcast sends a change event to every open channel connection.
func (s *Server) Broadcast(event records.ChangeEvent) {
	payload, _ := json.Marshal(event)
	s.BroadcastRaw(payload)
}

// BroadcastRaw sends a raw frame to every open channel connection.
func (s *Server) BroadcastRaw(frame []byte) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
}

// CloseChannels drops every open channel connection.
func (s *Server) CloseChannels() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/ws/updates":
		s.serveChannel(w, r)
	case r.URL.Path == "/auth/login" && r.Method == http.MethodPost:
		s.serveLogin(w, r)
	case strings.HasSuffix(r.URL.Path, "/lock"):
		s.serveLock(w, r)
	case r.Method == http.MethodPut:
		s.serveUpdate(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
	}
}

func (s *Server) serveLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	var found *User
	for _, u := range s.users {
		if u.Identity.Name == creds.Username && u.Password == creds.Password {
			found = &u
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Credenciales inválidas"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": found.Token,
		"token_type":   "bearer",
		"user": map[string]any{
			"id":       found.Identity.ID,
			"username": found.Identity.Name,
			"name":     found.Identity.Name,
		},
	})
}

func (s *Server) serveLock(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
		return
	}
	key := records.RecordKey{Resource: parts[0], ID: parts[1]}

	s.mu.Lock()
	s.hits[r.Method]++
	hold := s.hold
	unsupported := s.unsupported[key.Resource]
	user, authed := s.users[bearer(r)]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if !authed {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Not authenticated"})
		return
	}
	if unsupported {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if e, ok := s.locks[key]; ok && !now.Before(e.expiresAt) {
		delete(s.locks, key)
	}

	switch r.Method {
	case http.MethodGet:
		e, ok := s.locks[key]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"locked": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"locked":   true,
			"lockedBy": wireIdentity(e.holder),
			"lockedAt": float64(e.lockedAt.UnixNano()) / float64(time.Second),
		})

	case http.MethodPost:
		if e, ok := s.locks[key]; ok {
			writeJSON(w, http.StatusConflict, map[string]any{"locked": true, "lockedBy": wireIdentity(e.holder)})
			return
		}
		s.locks[key] = lockEntry{holder: user.Identity, lockedAt: now, expiresAt: now.Add(s.ttl)}
		writeJSON(w, http.StatusOK, map[string]any{"locked": true, "lockedBy": wireIdentity(user.Identity)})

	case http.MethodDelete:
		if e, ok := s.locks[key]; ok {
			if e.holder.ID != user.Identity.ID {
				writeJSON(w, http.StatusForbidden, map[string]any{"detail": "Solo el dueño del lock puede liberarlo"})
				return
			}
			delete(s.locks, key)
		}
		writeJSON(w, http.StatusOK, map[string]any{"released": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"detail": "Method Not Allowed"})
	}
}

// serveUpdate stores the body as the record and broadcasts the change.
func (s *Server) serveUpdate(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not Found"})
		return
	}
	key := records.RecordKey{Resource: parts[0], ID: parts[1]}

	s.mu.Lock()
	_, authed := s.users[bearer(r)]
	s.mu.Unlock()
	if !authed {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Not authenticated"})
		return
	}

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid body"})
		return
	}
	body["id"] = key.ID

	s.mu.Lock()
	s.data[key] = body
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
	s.Broadcast(records.ChangeEvent{Kind: records.EventUpdate, Resource: key.Resource, Data: body})
}

func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.connMu.Lock()
	s.conns[conn] = true
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "ping" {
			s.connMu.Lock()
			s.pings++
			_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
			s.connMu.Unlock()
		}
	}
}

func wireIdentity(id records.Identity) map[string]any {
	return map[string]any{"id": id.ID, "username": id.Name}
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

const tokenKey = "bearer"

// credential is the cached value; it expires with the token.
type credential struct {
	token     string
	identity  records.Identity
	expiresAt time.Time
}

// Store keeps the current bearer token. Reads happen on every request, so
// the token is looked up at dispatch time rather than captured.
type Store struct {
	cache *gocache.Cache

	mu         sync.Mutex
	lastExpiry time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		cache: gocache.New(gocache.NoExpiration, constants.CacheCleanupInterval),
	}
}

// Set stores token. When identity is nil it is derived from the token's
// claims. A token whose exp claim has passed is rejected.
func (s *Store) Set(token string, identity *records.Identity) error {
	if token == "" {
		return errors.NewValidationError("token", "", "token is empty")
	}

	cred := credential{token: token}
	claims, parsed := parseClaims(token)
	if parsed {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			cred.expiresAt = exp.Time
		}
		cred.identity = identityFromClaims(claims)
	}
	if identity != nil {
		cred.identity = *identity
	}

	ttl := gocache.NoExpiration
	if !cred.expiresAt.IsZero() {
		ttl = time.Until(cred.expiresAt)
		if ttl <= 0 {
			return errors.NewValidationError("token", cred.expiresAt, "token already expired")
		}
	}

	s.mu.Lock()
	s.lastExpiry = cred.expiresAt
	s.mu.Unlock()
	s.cache.Set(tokenKey, cred, ttl)
	return nil
}

// Token returns the stored token, or "" when none is usable.
func (s *Store) Token() string {
	cred, ok := s.get()
	if !ok {
		return ""
	}
	return cred.token
}

// Identity returns the identity the token belongs to.
func (s *Store) Identity() (records.Identity, bool) {
	cred, ok := s.get()
	if !ok || cred.identity.IsZero() {
		return records.Identity{}, false
	}
	return cred.identity, true
}

// Authenticated reports whether a usable token is stored.
func (s *Store) Authenticated() bool {
	_, ok := s.get()
	return ok
}

// Purge drops the credential.
func (s *Store) Purge() {
	s.cache.Delete(tokenKey)
	s.mu.Lock()
	s.lastExpiry = time.Time{}
	s.mu.Unlock()
}

// Status summarizes the stored credential.
func (s *Store) Status() Status {
	cred, ok := s.get()
	if ok {
		summary := "token stored"
		if cred.identity.Name != "" {
			summary = fmt.Sprintf("signed in as %s", cred.identity.Name)
		}
		return Status{State: StateAuthenticated, Summary: summary, ExpiresAt: cred.expiresAt}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastExpiry.IsZero() && !time.Now().Before(s.lastExpiry) {
		return Status{State: StateExpired, Summary: "token expired"}
	}
	return Status{State: StateMissing, Summary: "no token"}
}

func (s *Store) get() (credential, bool) {
	v, found := s.cache.Get(tokenKey)
	if !found {
		return credential{}, false
	}
	cred := v.(credential)
	if !cred.expiresAt.IsZero() && !time.Now().Before(cred.expiresAt) {
		return credential{}, false
	}
	return cred, true
}

// parseClaims reads the claims of a JWT without verifying it; the server
// verifies. Opaque tokens report false.
func parseClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func identityFromClaims(claims jwt.MapClaims) records.Identity {
	var id records.Identity
	if v, ok := claims["id"]; ok {
		id.ID = records.FormatID(v)
	} else if v, ok := claims["user_id"]; ok {
		id.ID = records.FormatID(v)
	}
	for _, key := range []string{"username", "name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			id.Name = v
			break
		}
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id.Name == "" {
			id.Name = sub
		}
		if id.ID == "" {
			id.ID = sub
		}
	}
	return id
}

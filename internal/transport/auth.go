package transport

import (
	"net/http"
)

// TokenSource yields the current credential. It is consulted on every
// request so a token set or purged mid-session takes effect immediately.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// StaticToken is a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() string { return string(s) }

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request) {}

// BearerAuth implements Bearer token authentication.
type BearerAuth struct {
	Source TokenSource
}

// Apply implements the Authenticator interface for BearerAuth.
// Requests go out unauthenticated while no token is available.
func (a *BearerAuth) Apply(req *http.Request) {
	if a.Source == nil {
		return
	}
	if token := a.Source.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// HeaderAuth implements custom header authentication.
type HeaderAuth struct {
	Header string
	Source TokenSource
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request) {
	if a.Source == nil {
		return
	}
	if token := a.Source.Token(); token != "" {
		req.Header.Set(a.Header, token)
	}
}

// Package transport is the single HTTP path to the clinic API. It injects
// the bearer credential, purges it when the server rejects it, and
// collapses identical concurrent reads into one network call.
package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/logging"
)

// DefaultHTTPTimeout is the default timeout for HTTP requests.
var DefaultHTTPTimeout = constants.DefaultHTTPTimeout

// Credentials is the credential store as the transport sees it.
type Credentials interface {
	Token() string
	Purge()
}

// Doer performs API requests. *Client implements it.
type Doer interface {
	Do(ctx context.Context, method, path string, body any) (*Response, error)
}

// Client provides HTTP client functionality with authentication.
type Client struct {
	base           *url.URL
	http           *http.Client
	auth           Authenticator
	creds          Credentials
	onUnauthorized func()
	loginPath      string
	logger         *zerolog.Logger

	reads singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client is
// copied, so later options never change the caller's value.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.http = &cp
		}
	}
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored
// so a request can never hang forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithCredentials sets the store used for bearer authentication and
// purged on 401.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		c.creds = creds
		if creds != nil {
			c.auth = &BearerAuth{Source: creds}
		}
	}
}

// WithAuthenticator overrides how credentials are applied.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *Client) {
		if auth != nil {
			c.auth = auth
		}
	}
}

// WithUnauthorizedHandler is called after a 401 purged the credential.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// WithLoginPath sets the path whose 401 responses are bad credentials
// rather than an expired session.
func WithLoginPath(path string) Option {
	return func(c *Client) {
		c.loginPath = path
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.WrapValidation("base_url", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.NewValidationError("base_url", baseURL, "scheme must be http or https")
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: DefaultHTTPTimeout},
		auth:      &NoAuth{},
		loginPath: constants.LoginPath,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = DefaultHTTPTimeout
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do performs a request against path. Concurrent GET and HEAD requests for
// the same URL share one network call; each caller still returns as soon
// as its own ctx is done. A non-2xx response is returned together with an
// error describing it.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	target := c.resolve(path)

	if body == nil && (method == http.MethodGet || method == http.MethodHead) {
		return c.coalesce(ctx, method, path, target)
	}
	return c.send(ctx, method, path, target, body)
}

func (c *Client) coalesce(ctx context.Context, method, path, target string) (*Response, error) {
	key := method + " " + target
	shared := context.WithoutCancel(ctx)

	ch := c.reads.DoChan(key, func() (any, error) {
		return c.send(shared, method, path, target, nil)
	})

	select {
	case <-ctx.Done():
		return nil, contextError(key, ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Str("request", key).Msg("Joined in-flight request")
		}
		resp, _ := res.Val.(*Response)
		return resp, res.Err
	}
}

func (c *Client) send(ctx context.Context, method, path, target string, body any) (*Response, error) {
	req, err := newRequest(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	c.auth.Apply(req)

	httpResp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextError(method+" "+target, ctx.Err())
		}
		return nil, errors.WrapResource("send", "request", method+" "+path, err)
	}
	defer func() {
		if cerr := httpResp.Body.Close(); cerr != nil {
			c.logger.Warn().Err(cerr).Msg("Failed to close response body")
		}
	}()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.WrapResource("read", "response body", method+" "+path, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       payload,
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Msg("API request")

	if resp.StatusCode == http.StatusUnauthorized && !c.isLogin(path) {
		c.unauthorized(method, path)
		return resp, errors.NewAuthenticationError(path, "bearer", "credential rejected", nil)
	}
	if !resp.OK() {
		return resp, errors.NewAPIError(method, path, resp.StatusCode, errorMessage(payload))
	}
	return resp, nil
}

func (c *Client) unauthorized(method, path string) {
	c.logger.Warn().
		Str("method", method).
		Str("path", path).
		Msg("Credential rejected, signing out")

	if c.creds != nil {
		c.creds.Purge()
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

func (c *Client) isLogin(path string) bool {
	if c.loginPath == "" {
		return false
	}
	p := path
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimRight(p, "/") == strings.TrimRight(c.loginPath, "/")
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base.String() + path
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

package livesync

import (
	"context"
	stderrors "errors"

	"github.com/clinicdesk/livesync/pkg/errors"
	"github.com/clinicdesk/livesync/pkg/records"
)

// loginResponse is the body of a successful login.
type loginResponse struct {
	AccessToken string            `json:"access_token"`
	TokenType   string            `json:"token_type"`
	User        *records.Identity `json:"user"`
}

// Login authenticates with username and password and stores the returned
// credential for every later request.
func (c *client) Login(ctx context.Context, username, password string) (records.Identity, error) {
	if username == "" {
		return records.Identity{}, errors.NewValidationError("username", username, "required")
	}

	body := map[string]string{"username": username, "password": password}
	resp, err := c.transport.Post(ctx, c.config.loginPath, body)
	if err != nil {
		if resp != nil {
			var apiErr *errors.APIError
			msg := "login rejected"
			if stderrors.As(err, &apiErr) && apiErr.Message != "" {
				msg = apiErr.Message
			}
			return records.Identity{}, errors.NewAuthenticationError(c.config.loginPath, "login", msg, err)
		}
		return records.Identity{}, err
	}

	var login loginResponse
	if err := resp.DecodeJSON(&login); err != nil {
		return records.Identity{}, err
	}
	if login.AccessToken == "" {
		return records.Identity{}, errors.NewAuthenticationError(c.config.loginPath, "login", "no access token in response", nil)
	}

	var identity *records.Identity
	if login.User != nil && !login.User.IsZero() {
		identity = login.User
	}
	if err := c.creds.Set(login.AccessToken, identity); err != nil {
		return records.Identity{}, err
	}

	id, _ := c.creds.Identity()
	if id.Name == "" {
		id.Name = username
	}
	c.config.logger.Info().Str("username", id.Name).Msg("Signed in")
	return id, nil
}

// Logout drops the credential and fires the logout hooks.
func (c *client) Logout() {
	c.creds.Purge()
	c.hooks.triggerLogout()
}

// Identity returns the signed-in user.
func (c *client) Identity() (records.Identity, bool) {
	return c.creds.Identity()
}

// Authenticated reports whether a usable credential is stored.
func (c *client) Authenticated() bool {
	return c.creds.Authenticated()
}

// Token returns the stored bearer token.
func (c *client) Token() string {
	return c.creds.Token()
}

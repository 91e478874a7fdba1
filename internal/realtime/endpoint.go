package realtime

import (
	"net/url"
	"strings"

	"github.com/clinicdesk/livesync/pkg/constants"
	"github.com/clinicdesk/livesync/pkg/errors"
)

// Endpoint derives the realtime channel URL from the REST base URL.
// http becomes ws and https becomes wss; ws and wss are kept as is.
func Endpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", errors.WrapValidation("base_url", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.NewValidationError("base_url", baseURL, "scheme must be http or https")
	}
	if u.Host == "" {
		return "", errors.NewValidationError("base_url", baseURL, "missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + constants.ChannelPath
	u.RawPath = ""
	return u.String(), nil
}

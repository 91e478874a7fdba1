package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/clinicdesk/livesync/pkg/errors"
)

// Response is a settled HTTP response. Responses of coalesced reads are
// shared between callers and must be treated as read-only.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON decodes the response body into target.
func (r *Response) DecodeJSON(target any) error {
	return DecodeJSON(r, target)
}

// DecodeJSON decodes a JSON response into the target structure.
func DecodeJSON(resp *Response, target any) error {
	if resp == nil {
		return errors.NewValidationError("response", nil, "no response")
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return errors.NewParseError("json", "response", "empty body", nil)
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return errors.WrapParse("json", "response", err)
	}
	return nil
}

// newRequest builds a request with a JSON body when body is non-nil.
func newRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapParse("json", "request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.WrapResource("create", "request", method+" "+url, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// errorMessage extracts a readable message from an error body.
// FastAPI style {"detail": "..."} bodies are unwrapped.
func errorMessage(body []byte) string {
	var payload struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if s, ok := payload.Detail.(string); ok && s != "" {
			return s
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// contextError maps a context failure onto the package sentinels.
func contextError(operation string, err error) error {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError(operation, "", err.Error())
	case stderrors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", operation, errors.ErrCanceled, err)
	}
	return err
}

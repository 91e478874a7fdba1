package transport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoAuth(t *testing.T) {
	req := &http.Request{Header: make(http.Header)}
	(&NoAuth{}).Apply(req)
	assert.Empty(t, req.Header)
}

func TestBearerAuthReadsAtDispatch(t *testing.T) {
	token := "first"
	auth := &BearerAuth{Source: TokenFunc(func() string { return token })}

	req := &http.Request{Header: make(http.Header)}
	auth.Apply(req)
	assert.Equal(t, "Bearer first", req.Header.Get("Authorization"))

	token = "second"
	req = &http.Request{Header: make(http.Header)}
	auth.Apply(req)
	assert.Equal(t, "Bearer second", req.Header.Get("Authorization"))

	token = ""
	req = &http.Request{Header: make(http.Header)}
	auth.Apply(req)
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestHeaderAuth(t *testing.T) {
	auth := &HeaderAuth{Header: "X-Api-Key", Source: StaticToken("k-1")}
	req := &http.Request{Header: make(http.Header)}
	auth.Apply(req)
	assert.Equal(t, "k-1", req.Header.Get("X-Api-Key"))

	req = &http.Request{Header: make(http.Header)}
	(&BearerAuth{}).Apply(req)
	assert.Empty(t, req.Header)
}

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/livesync/pkg/records"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestStoreDerivesIdentityFromClaims(t *testing.T) {
	s := NewStore()
	token := signed(t, jwt.MapClaims{
		"sub": "alice",
		"id":  float64(3),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, s.Set(token, nil))

	assert.True(t, s.Authenticated())
	assert.Equal(t, token, s.Token())

	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, records.Identity{ID: "3", Name: "alice"}, id)

	status := s.Status()
	assert.Equal(t, StateAuthenticated, status.State)
	assert.Equal(t, "signed in as alice", status.Summary)
	assert.False(t, status.ExpiresAt.IsZero())
}

func TestStoreExplicitIdentityWins(t *testing.T) {
	s := NewStore()
	token := signed(t, jwt.MapClaims{"sub": "alice"})
	require.NoError(t, s.Set(token, &records.Identity{ID: "9", Name: "Alice A."}))

	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, "9", id.ID)
	assert.True(t, s.Status().ExpiresAt.IsZero())
}

func TestStoreOpaqueToken(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set("opaque-token", nil))

	assert.Equal(t, "opaque-token", s.Token())
	_, ok := s.Identity()
	assert.False(t, ok)
}

func TestStoreRejectsExpiredToken(t *testing.T) {
	s := NewStore()
	token := signed(t, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(-time.Minute).Unix()})

	assert.Error(t, s.Set(token, nil))
	assert.False(t, s.Authenticated())
	assert.Equal(t, StateMissing, s.Status().State)
	assert.Error(t, s.Set("", nil))
}

func TestStoreTokenExpires(t *testing.T) {
	s := NewStore()
	token := signed(t, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(2 * time.Second).Unix()})
	require.NoError(t, s.Set(token, nil))
	require.True(t, s.Authenticated())

	assert.Eventually(t, func() bool { return s.Token() == "" }, 4*time.Second, 50*time.Millisecond)
	assert.Equal(t, StateExpired, s.Status().State)
}

func TestStorePurge(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Set("opaque-token", &records.Identity{ID: "1", Name: "root"}))
	s.Purge()

	assert.False(t, s.Authenticated())
	assert.Equal(t, "", s.Token())
	_, ok := s.Identity()
	assert.False(t, ok)
	assert.Equal(t, StateMissing, s.Status().State)
	assert.Equal(t, "missing", s.Status().State.String())
}

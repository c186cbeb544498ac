package auth

import (
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSigner_RoundTrip(t *testing.T) {
	s := NewStateSigner("state-secret")

	state, verifier, err := s.Issue("acct-1", "/inbox")
	require.NoError(t, err)
	assert.NotEmpty(t, verifier)

	claims, err := s.Parse(state)
	require.NoError(t, err)
	assert.Equal(t, verifier, claims.Verifier)
	assert.Equal(t, "/inbox", claims.Redirect)
	assert.Equal(t, "acct-1", claims.Subject)
}

func TestStateSigner_Expired(t *testing.T) {
	s := NewStateSigner("state-secret")
	issued := time.Now()
	s.now = func() time.Time { return issued }
	state, _, err := s.Issue("acct-1", "")
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(stateTTL + time.Second) }
	_, err = s.Parse(state)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestStateSigner_Tampered(t *testing.T) {
	state, _, err := NewStateSigner("state-secret").Issue("acct-1", "")
	require.NoError(t, err)

	_, err = NewStateSigner("other-secret").Parse(state)
	assert.Error(t, err)

	_, err = NewStateSigner("state-secret").Parse(state + "x")
	assert.Error(t, err)
}

func TestStateSigner_RejectsForeignToken(t *testing.T) {
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("state-secret"))
	require.NoError(t, err)

	_, err = NewStateSigner("state-secret").Parse(foreign)
	assert.Error(t, err)
}

func TestStateSigner_EmptySecret(t *testing.T) {
	_, _, err := NewStateSigner("").Issue("acct-1", "")
	assert.Error(t, err)

	_, _, err = NewStateSigner("state-secret").Issue("", "")
	assert.Error(t, err)
}

func TestAuthCodeURL(t *testing.T) {
	cfg := NewOAuthConfig("cid", "secret", "https://auth.example/authorize", "https://auth.example/token", "https://app.example/cb")
	raw := AuthCodeURL(cfg, "the-state", "the-verifier")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "the-state", q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "cid", q.Get("client_id"))
}

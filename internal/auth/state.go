package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	stateIssuer = "mappa-oauth-state"
	stateTTL    = 10 * time.Minute
)

// StateClaims travel through the authorization redirect in the state
// parameter, so no server-side handshake map is needed.
type StateClaims struct {
	Verifier string `json:"cv"`
	Redirect string `json:"rd,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies signed, time-boxed handshake state.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: stateTTL, now: time.Now}
}

// Issue generates a PKCE verifier and returns the signed state carrying it
// and the account being attached.
func (s *StateSigner) Issue(accountID, redirect string) (state, verifier string, err error) {
	if len(s.secret) == 0 {
		return "", "", errors.New("state signing secret is empty")
	}
	if accountID == "" {
		return "", "", errors.New("state requires an account id")
	}
	verifier = oauth2.GenerateVerifier()
	now := s.now()
	claims := StateClaims{
		Verifier: verifier,
		Redirect: redirect,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return state, verifier, nil
}

// Parse verifies signature, issuer and expiry.
func (s *StateSigner) Parse(state string) (*StateClaims, error) {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid state: %w", err)
	}
	if claims.Verifier == "" || claims.Subject == "" {
		return nil, errors.New("invalid state: missing verifier or account")
	}
	return claims, nil
}

// AuthCodeURLer is satisfied by *oauth2.Config.
type AuthCodeURLer interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
}

// AuthCodeURL builds the authorization redirect for a freshly issued state.
func AuthCodeURL(cfg AuthCodeURLer, state, verifier string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Mister-97/mappa-pro/internal/apperr"
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes against the platform's token endpoint.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewOAuthConfig builds the platform client config. The platform expects
// client credentials in the form body.
func NewOAuthConfig(clientID, clientSecret, authURL, tokenURL, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func NewOAuthRefresher(config *oauth2.Config, httpClient *http.Client) *OAuthRefresher {
	return &OAuthRefresher{config: config, httpClient: httpClient}
}

// Refresh returns *oauth2.RetrieveError for answers from the token
// endpoint, the transport error for network failures, and wraps anything
// else (unparseable or incomplete bodies) in apperr.ErrMalformedResponse.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err == nil {
		return tok, nil
	}

	var rErr *oauth2.RetrieveError
	var netErr net.Error
	switch {
	case errors.As(err, &rErr), errors.As(err, &netErr),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedResponse, err)
}

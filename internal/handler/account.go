package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/oauth2"

	"github.com/Mister-97/mappa-pro/internal/auth"
	"github.com/Mister-97/mappa-pro/internal/model"
)

// AccountService manages stored platform credentials.
type AccountService interface {
	Connect(ctx context.Context, accountID string, tok *oauth2.Token) error
	Disconnect(ctx context.Context, accountID string) error
	Status(ctx context.Context, accountID string) (*model.Credential, error)
}

// CodeExchanger is satisfied by *oauth2.Config.
type CodeExchanger interface {
	auth.AuthCodeURLer
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// AccountHandler attaches, inspects and detaches creator accounts.
type AccountHandler struct {
	accounts    AccountService
	oauth       CodeExchanger
	signer      *auth.StateSigner
	jwtSecret   string
	frontendURL string
	logger      *slog.Logger
}

func NewAccountHandler(accounts AccountService, oauth CodeExchanger, signer *auth.StateSigner, jwtSecret, frontendURL string, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:    accounts,
		oauth:       oauth,
		signer:      signer,
		jwtSecret:   jwtSecret,
		frontendURL: frontendURL,
		logger:      logger.With("component", "account_handler"),
	}
}

// Connect starts the platform OAuth flow for an account. The PKCE verifier
// travels inside the signed state.
func (h *AccountHandler) Connect(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}

	redirect := req.QueryStringParameters["redirect"]
	if redirect != "" && !strings.HasPrefix(redirect, "/") {
		return errorResponse(http.StatusBadRequest, "redirect must be a relative path"), nil
	}

	state, verifier, err := h.signer.Issue(accountID, redirect)
	if err != nil {
		h.logger.Error("failed to issue state", "account_id", accountID, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to start authorization"), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": auth.AuthCodeURL(h.oauth, state, verifier),
		},
	}, nil
}

// Callback completes the OAuth flow. It is reached by browser redirect, so
// the signed state is the only proof of origin.
func (h *AccountHandler) Callback(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if e := req.QueryStringParameters["error"]; e != "" {
		h.logger.Warn("authorization denied", "error", e)
		return h.finish("", "denied"), nil
	}

	code := req.QueryStringParameters["code"]
	if code == "" {
		return errorResponse(http.StatusBadRequest, "Missing code"), nil
	}

	claims, err := h.signer.Parse(req.QueryStringParameters["state"])
	if err != nil {
		h.logger.Warn("rejected callback state", "error", err)
		return errorResponse(http.StatusBadRequest, "Invalid or expired state"), nil
	}
	accountID := claims.Subject

	tok, err := h.oauth.Exchange(ctx, code, oauth2.VerifierOption(claims.Verifier))
	if err != nil {
		h.logger.Error("code exchange failed", "account_id", accountID, "error", err)
		return errorResponse(http.StatusBadGateway, "Failed to exchange code"), nil
	}

	if err := h.accounts.Connect(ctx, accountID, tok); err != nil {
		h.logger.Error("failed to store credential", "account_id", accountID, "error", err)
		return errorResponse(http.StatusInternalServerError, "Failed to store credential"), nil
	}
	h.logger.Info("account connected", "account_id", accountID)

	return h.finish(claims.Redirect, "connected"), nil
}

func (h *AccountHandler) finish(redirect, result string) events.APIGatewayProxyResponse {
	if redirect == "" {
		redirect = "/"
	}
	q := url.Values{"result": {result}}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": h.frontendURL + redirect + "?" + q.Encode(),
		},
	}
}

type accountStatus struct {
	AccountID     string    `json:"account_id"`
	Active        bool      `json:"active"`
	NeedsReattach bool      `json:"needs_reattach"`
	ExpiresAt     time.Time `json:"expires_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Status reports whether the account is attached.
func (h *AccountHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}

	cred, err := h.accounts.Status(ctx, accountID)
	if err != nil {
		return failure(err), nil
	}
	return jsonResponse(http.StatusOK, accountStatus{
		AccountID:     cred.AccountID,
		Active:        cred.Active,
		NeedsReattach: cred.NeedsReattach,
		ExpiresAt:     cred.ExpiresAt,
		UpdatedAt:     cred.UpdatedAt,
	}), nil
}

// Disconnect detaches the account and discards its tokens.
func (h *AccountHandler) Disconnect(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}

	if err := h.accounts.Disconnect(ctx, accountID); err != nil {
		h.logger.Error("disconnect failed", "account_id", accountID, "error", err)
		return failure(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

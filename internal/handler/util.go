package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Mister-97/mappa-pro/internal/apperr"
)

// OperatorClaims identify a CRM operator and the creator accounts they may
// act on. "*" grants every account.
type OperatorClaims struct {
	Accounts []string `json:"accounts"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the operator may act on accountID.
func (c *OperatorClaims) CanAccess(accountID string) bool {
	return slices.Contains(c.Accounts, "*") || slices.Contains(c.Accounts, accountID)
}

func header(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// GetOperator extracts the operator from the Authorization header or
// session cookie.
func GetOperator(req events.APIGatewayProxyRequest, jwtSecret string) (*OperatorClaims, error) {
	// 1. Check Authorization Header (Bearer <token>)
	tokenString := ""
	if authHeader := header(req, "Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		tokenString = strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Check Cookie
	if tokenString == "" {
		for _, part := range strings.Split(header(req, "Cookie"), ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(part, "session_token=") {
				tokenString = strings.TrimPrefix(part, "session_token=")
				break
			}
		}
	}

	if tokenString == "" {
		return nil, fmt.Errorf("no authorization token found")
	}

	claims := &OperatorClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// authorize checks the session and the operator's access to the account in
// the path. ok is false when resp should be returned as is.
func authorize(req events.APIGatewayProxyRequest, jwtSecret string) (accountID string, resp events.APIGatewayProxyResponse, ok bool) {
	op, err := GetOperator(req, jwtSecret)
	if err != nil {
		return "", errorResponse(http.StatusUnauthorized, "Unauthorized"), false
	}
	accountID = req.PathParameters["accountId"]
	if accountID == "" {
		return "", errorResponse(http.StatusBadRequest, "Missing account id"), false
	}
	if !op.CanAccess(accountID) {
		return "", errorResponse(http.StatusForbidden, "Forbidden"), false
	}
	return accountID, events.APIGatewayProxyResponse{}, true
}

// requestBody returns the raw body, decoding base64 payloads.
func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return errorResponse(http.StatusInternalServerError, "Failed to encode response")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	return jsonResponse(status, map[string]string{"error": msg})
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrPermanentAuth):
		return http.StatusConflict
	}
	switch apperr.Classify(err) {
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindTransient, apperr.KindAuthExpired:
		return http.StatusBadGateway
	case apperr.KindInvalid:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func failure(err error) events.APIGatewayProxyResponse {
	status := statusFor(err)
	msg := http.StatusText(status)
	switch {
	case errors.Is(err, apperr.ErrPermanentAuth):
		msg = "Account needs to be re-attached"
	case errors.Is(err, apperr.ErrSyncInProgress):
		msg = "Sync already in progress"
	}
	return errorResponse(status, msg)
}

package handler_test

import (
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Mister-97/mappa-pro/internal/handler"
)

const (
	testJWTSecret  = "test-secret"
	testOperatorID = "operator-123"
	testAccountID  = "acct-1"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func makeToken(accounts ...string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, handler.OperatorClaims{
		Accounts: accounts,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testOperatorID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, _ := token.SignedString([]byte(testJWTSecret))
	return signed
}

func makeRequest(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"Authorization": "Bearer " + makeToken(testAccountID),
			"Content-Type":  "application/json",
		},
		PathParameters:        map[string]string{"accountId": testAccountID},
		QueryStringParameters: map[string]string{},
	}
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Mister-97/mappa-pro/internal/earnings"
)

type EarningsService interface {
	Summary(ctx context.Context, accountID string, from, to time.Time) (*earnings.Summary, error)
}

type EarningsHandler struct {
	service   EarningsService
	jwtSecret string
	logger    *slog.Logger
}

func NewEarningsHandler(service EarningsService, jwtSecret string, logger *slog.Logger) *EarningsHandler {
	return &EarningsHandler{service: service, jwtSecret: jwtSecret, logger: logger.With("component", "earnings_handler")}
}

// Summary handles GET /accounts/{id}/earnings?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *EarningsHandler) Summary(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}

	from, err := time.Parse(earnings.DateLayout, req.QueryStringParameters["start"])
	if err != nil {
		return errorResponse(http.StatusBadRequest, "start must be YYYY-MM-DD"), nil
	}
	to, err := time.Parse(earnings.DateLayout, req.QueryStringParameters["end"])
	if err != nil {
		return errorResponse(http.StatusBadRequest, "end must be YYYY-MM-DD"), nil
	}

	sum, err := h.service.Summary(ctx, accountID, from, to)
	if errors.Is(err, earnings.ErrInvalidRange) {
		return errorResponse(http.StatusBadRequest, "end must not be before start"), nil
	}
	if err != nil {
		h.logger.Error("earnings summary failed", "account_id", accountID, "error", err)
		return failure(err), nil
	}
	return jsonResponse(http.StatusOK, sum), nil
}

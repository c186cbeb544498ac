package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Mister-97/mappa-pro/internal/model"
)

type Syncer interface {
	SyncNow(ctx context.Context, accountID string) error
	Status(ctx context.Context, accountID string) (*model.SyncState, error)
}

// SyncHandler exposes on-demand reconciliation.
type SyncHandler struct {
	syncer    Syncer
	jwtSecret string
	logger    *slog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer Syncer, jwtSecret string, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{syncer: syncer, jwtSecret: jwtSecret, logger: logger.With("component", "sync_handler")}
}

// Trigger runs a sync for the account now and reports its outcome.
func (h *SyncHandler) Trigger(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}

	if err := h.syncer.SyncNow(ctx, accountID); err != nil {
		h.logger.Warn("sync now failed", "account_id", accountID, "error", err)
		return failure(err), nil
	}
	return h.status(ctx, accountID), nil
}

// Status returns the last recorded sync state.
func (h *SyncHandler) Status(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	return h.status(ctx, accountID), nil
}

func (h *SyncHandler) status(ctx context.Context, accountID string) events.APIGatewayProxyResponse {
	st, err := h.syncer.Status(ctx, accountID)
	if err != nil {
		return failure(err)
	}
	return jsonResponse(http.StatusOK, st)
}

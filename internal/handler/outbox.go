package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Mister-97/mappa-pro/internal/outbox"
)

type QueueRegistry interface {
	Queue(accountID string) *outbox.Queue
}

// OutboxHandler queues operator messages and manages failed sends.
type OutboxHandler struct {
	queues    QueueRegistry
	jwtSecret string
}

func NewOutboxHandler(queues QueueRegistry, jwtSecret string) *OutboxHandler {
	return &OutboxHandler{queues: queues, jwtSecret: jwtSecret}
}

type sendRequest struct {
	Text       string   `json:"text"`
	PriceCents int64    `json:"price_cents"`
	MediaIDs   []string `json:"media_ids"`
}

// Send queues a message to a fan and returns its temporary id.
func (h *OutboxHandler) Send(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	fanID := req.PathParameters["fanId"]

	var input sendRequest
	if err := json.Unmarshal([]byte(req.Body), &input); err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid request body"), nil
	}
	if fanID == "" || strings.TrimSpace(input.Text) == "" {
		return errorResponse(http.StatusBadRequest, "fan and text are required"), nil
	}
	if input.PriceCents < 0 {
		return errorResponse(http.StatusBadRequest, "price must not be negative"), nil
	}

	item := h.queues.Queue(accountID).Enqueue(outbox.Request{
		FanID:      fanID,
		Text:       input.Text,
		PriceCents: input.PriceCents,
		MediaIDs:   input.MediaIDs,
	})
	return jsonResponse(http.StatusAccepted, item), nil
}

// List returns the account's outbox in submission order.
func (h *OutboxHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	return jsonResponse(http.StatusOK, h.queues.Queue(accountID).Items()), nil
}

func (h *OutboxHandler) Retry(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return h.act(req, (*outbox.Queue).Retry)
}

func (h *OutboxHandler) Discard(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return h.act(req, (*outbox.Queue).Discard)
}

func (h *OutboxHandler) Acknowledge(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return h.act(req, (*outbox.Queue).Acknowledge)
}

func (h *OutboxHandler) act(req events.APIGatewayProxyRequest, fn func(*outbox.Queue, string) error) (events.APIGatewayProxyResponse, error) {
	accountID, resp, ok := authorize(req, h.jwtSecret)
	if !ok {
		return resp, nil
	}
	err := fn(h.queues.Queue(accountID), req.PathParameters["tempId"])
	if errors.Is(err, outbox.ErrWrongState) {
		return errorResponse(http.StatusConflict, err.Error()), nil
	}
	if err != nil {
		return failure(err), nil
	}
	return jsonResponse(http.StatusOK, map[string]bool{"success": true}), nil
}

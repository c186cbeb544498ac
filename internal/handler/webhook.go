package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/Mister-97/mappa-pro/internal/webhook"
)

type EventProcessor interface {
	Process(ctx context.Context, env *webhook.Envelope) error
}

// WebhookHandler receives platform push events.
type WebhookHandler struct {
	processor EventProcessor
	secret    string
	tolerance time.Duration
	async     bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewWebhookHandler creates a WebhookHandler. With async set, verified
// events are applied after the response; only long-running servers should
// enable it.
func NewWebhookHandler(processor EventProcessor, secret string, tolerance time.Duration, async bool, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		tolerance: tolerance,
		async:     async,
		logger:    logger.With("component", "webhook_handler"),
		now:       time.Now,
	}
}

// Receive verifies the signature and applies the event. Once verified the
// platform always gets a 200; processing failures are only logged.
func (h *WebhookHandler) Receive(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, err := requestBody(req)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "Invalid body encoding"), nil
	}

	if err := webhook.Verify(header(req, webhook.SignatureHeader), body, h.secret, h.now(), h.tolerance); err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		return errorResponse(http.StatusUnauthorized, "Invalid signature"), nil
	}

	env, err := webhook.Parse(body)
	if err != nil {
		h.logger.Warn("malformed webhook", "error", err)
		return jsonResponse(http.StatusOK, map[string]bool{"received": true}), nil
	}

	if h.async {
		go h.process(context.WithoutCancel(ctx), env)
	} else {
		h.process(ctx, env)
	}
	return jsonResponse(http.StatusOK, map[string]bool{"received": true}), nil
}

func (h *WebhookHandler) process(ctx context.Context, env *webhook.Envelope) {
	if err := h.processor.Process(ctx, env); err != nil {
		h.logger.Error("webhook processing failed",
			"type", env.Type, "account_id", env.AccountID, "error", err)
	}
}

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/reconcile"
	"github.com/Mister-97/mappa-pro/internal/remote"
)

const (
	EventMessageCreated = "message.created"
	EventMessageSent    = "message.sent"
	EventChatRead       = "chat.read"
)

type Envelope struct {
	Type      string          `json:"type"`
	AccountID string          `json:"accountId"`
	Data      json.RawMessage `json:"data"`
}

type messageData struct {
	remote.Message
	Fan remote.Fan `json:"fan"`
}

type chatReadData struct {
	FanID string `json:"fanId"`
}

// Applier is the write side shared with the poller.
type Applier interface {
	ApplyMessage(ctx context.Context, accountID string, fan remote.Fan, msg remote.Message, source string) error
	MarkRead(ctx context.Context, accountID, fanID string) error
}

type Processor struct {
	applier Applier
	logger  *slog.Logger
}

func NewProcessor(applier Applier, logger *slog.Logger) *Processor {
	return &Processor{applier: applier, logger: logger.With("component", "webhook")}
}

// Parse decodes an envelope and checks the fields every event needs.
func Parse(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedResponse, err)
	}
	if env.Type == "" || env.AccountID == "" {
		return nil, fmt.Errorf("%w: envelope without type or account", apperr.ErrMalformedResponse)
	}
	return &env, nil
}

// Process applies one event. Unknown event types are ignored.
func (p *Processor) Process(ctx context.Context, env *Envelope) error {
	logger := p.logger.With("type", env.Type, "account_id", env.AccountID)

	switch env.Type {
	case EventMessageCreated, EventMessageSent:
		var data messageData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrMalformedResponse, err)
		}
		return p.applier.ApplyMessage(ctx, env.AccountID, data.Fan, data.Message, reconcile.SourceWebhook)

	case EventChatRead:
		var data chatReadData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrMalformedResponse, err)
		}
		return p.applier.MarkRead(ctx, env.AccountID, data.FanID)

	default:
		logger.Debug("ignoring webhook event")
		return nil
	}
}

package outbox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Mister-97/mappa-pro/internal/reconcile"
	"github.com/Mister-97/mappa-pro/internal/remote"
	"github.com/Mister-97/mappa-pro/internal/retry"
)

type Renderer interface {
	Render(source string) (string, error)
}

type MessageSender interface {
	SendMessage(ctx context.Context, accountID, fanID string, req remote.SendRequest) (*remote.Message, error)
}

type MessageApplier interface {
	ApplyMessage(ctx context.Context, accountID string, fan remote.Fan, msg remote.Message, source string) error
}

// NewSender renders the markdown body, posts it with rate-limit retries and
// records the sent message in the cache.
func NewSender(renderer Renderer, client MessageSender, applier MessageApplier, retryOpts retry.Options, logger *slog.Logger) SendFunc {
	return func(ctx context.Context, item Item) (string, error) {
		text, err := renderer.Render(item.Request.Text)
		if err != nil {
			return "", fmt.Errorf("failed to render message: %w", err)
		}

		req := remote.SendRequest{
			Text:       text,
			PriceCents: item.Request.PriceCents,
			MediaIDs:   item.Request.MediaIDs,
		}
		msg, err := retry.Do(ctx, retryOpts, func(ctx context.Context) (*remote.Message, error) {
			return client.SendMessage(ctx, item.AccountID, item.Request.FanID, req)
		})
		if err != nil {
			return "", err
		}

		if err := applier.ApplyMessage(ctx, item.AccountID, remote.Fan{ID: item.Request.FanID}, *msg, reconcile.SourceSend); err != nil {
			// Already delivered; the next poll picks the message up.
			logger.Warn("failed to cache sent message", "account_id", item.AccountID, "message_id", msg.ID, "error", err)
		}
		return msg.ID, nil
	}
}

// Package reconcile keeps the local inbox cache in step with the remote
// platform. The poller and webhook ingestion both write through Reconciler.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/content"
	"github.com/Mister-97/mappa-pro/internal/model"
	"github.com/Mister-97/mappa-pro/internal/notify"
	"github.com/Mister-97/mappa-pro/internal/rangefetch"
	"github.com/Mister-97/mappa-pro/internal/remote"
	"github.com/Mister-97/mappa-pro/internal/retry"
	"github.com/Mister-97/mappa-pro/internal/store"
)

const (
	SourcePoll    = "poll"
	SourceWebhook = "webhook"
	SourceSend    = "send"
)

// Remote is the subset of the platform client reconciliation reads from.
type Remote interface {
	ListChats(ctx context.Context, accountID string, limit int) (rangefetch.Page[remote.Chat], error)
	ListMessages(ctx context.Context, accountID, fanID string, limit int) (rangefetch.Page[remote.Message], error)
}

type Reconciler struct {
	db              *store.DB
	remote          Remote
	notifier        notify.Notifier
	logger          *slog.Logger
	messagePageSize int
	retry           retry.Options
}

func NewReconciler(db *store.DB, r Remote, notifier notify.Notifier, logger *slog.Logger, messagePageSize int, retryOpts retry.Options) *Reconciler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if messagePageSize <= 0 {
		messagePageSize = 20
	}
	return &Reconciler{
		db:              db,
		remote:          r,
		notifier:        notifier,
		logger:          logger.With("component", "reconcile"),
		messagePageSize: messagePageSize,
		retry:           retryOpts,
	}
}

// ApplyChat folds one remote chat summary into the cache. The conversation
// and its recent messages are only rewritten when the remote last message is
// strictly newer than the cached one. It reports whether anything changed.
func (r *Reconciler) ApplyChat(ctx context.Context, accountID string, chat remote.Chat) (bool, error) {
	if chat.Fan.ID == "" {
		return false, fmt.Errorf("chat without fan id: %w", apperr.ErrMalformedResponse)
	}
	if err := r.db.UpsertFan(ctx, toFan(accountID, chat.Fan)); err != nil {
		return false, err
	}
	if chat.LastMessage == nil {
		return false, nil
	}

	remoteAt := chat.LastMessage.CreatedAt.UTC().Truncate(time.Microsecond)
	cachedAt, ok, err := r.db.ConversationLastMessageAt(ctx, accountID, chat.Fan.ID)
	if err != nil {
		return false, err
	}
	if ok && !remoteAt.After(cachedAt) {
		return false, nil
	}

	// Messages first: the conversation only advances once its thread is
	// cached, so a failed warm-up is retried by the next tick.
	if err := r.warmMessages(ctx, accountID, chat.Fan.ID); err != nil {
		return false, err
	}

	conv := &model.Conversation{
		AccountID:          accountID,
		FanID:              chat.Fan.ID,
		LastMessageAt:      remoteAt,
		LastMessagePreview: content.Preview(chat.LastMessage.Text, content.DefaultPreviewLength),
		LastMessageFrom:    direction(chat.Fan.ID, *chat.LastMessage),
		UnreadCount:        chat.UnreadMessagesCount,
		IsUnread:           chat.UnreadMessagesCount > 0,
	}
	if err := r.db.UpsertConversation(ctx, conv); err != nil {
		return false, err
	}
	r.publish(ctx, conv, SourcePoll)
	return true, nil
}

func (r *Reconciler) warmMessages(ctx context.Context, accountID, fanID string) error {
	page, err := retry.Do(ctx, r.retry, func(ctx context.Context) (rangefetch.Page[remote.Message], error) {
		return r.remote.ListMessages(ctx, accountID, fanID, r.messagePageSize)
	})
	if err != nil {
		return fmt.Errorf("failed to load messages for fan %s: %w", fanID, err)
	}
	var errs []error
	for _, m := range page.Data {
		if err := r.db.UpsertMessage(ctx, toMessage(accountID, fanID, m)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ApplyMessage stores a single message pushed by a webhook or returned by a
// send, and advances the conversation when the message is the newest one.
func (r *Reconciler) ApplyMessage(ctx context.Context, accountID string, fan remote.Fan, msg remote.Message, source string) error {
	if fan.ID == "" || msg.ID == "" {
		return fmt.Errorf("message without fan or id: %w", apperr.ErrMalformedResponse)
	}
	if fan.Username != "" || fan.Name != "" {
		if err := r.db.UpsertFan(ctx, toFan(accountID, fan)); err != nil {
			return err
		}
	}

	stored := toMessage(accountID, fan.ID, msg)
	if err := r.db.UpsertMessage(ctx, stored); err != nil {
		return err
	}

	unread := 0
	existing, err := r.db.GetConversation(ctx, accountID, fan.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	default:
		if !stored.SentAt.After(existing.LastMessageAt) {
			// Older or replayed message; the thread head stays put.
			return nil
		}
		unread = existing.UnreadCount
	}
	if stored.Direction == model.Inbound {
		unread++
	} else {
		unread = 0
	}

	conv := &model.Conversation{
		AccountID:          accountID,
		FanID:              fan.ID,
		LastMessageAt:      stored.SentAt,
		LastMessagePreview: content.Preview(msg.Text, content.DefaultPreviewLength),
		LastMessageFrom:    stored.Direction,
		UnreadCount:        unread,
		IsUnread:           unread > 0,
	}
	if err := r.db.UpsertConversation(ctx, conv); err != nil {
		return err
	}
	r.publish(ctx, conv, source)
	return nil
}

// MarkRead clears the unread state of a conversation.
func (r *Reconciler) MarkRead(ctx context.Context, accountID, fanID string) error {
	return r.db.MarkConversationRead(ctx, accountID, fanID)
}

func (r *Reconciler) publish(ctx context.Context, conv *model.Conversation, source string) {
	event := notify.ConversationUpdated{
		AccountID:     conv.AccountID,
		FanID:         conv.FanID,
		LastMessageAt: conv.LastMessageAt,
		Preview:       conv.LastMessagePreview,
		Direction:     conv.LastMessageFrom,
		UnreadCount:   conv.UnreadCount,
		Source:        source,
	}
	if err := r.notifier.ConversationUpdated(ctx, event); err != nil {
		r.logger.Warn("failed to publish conversation update",
			"account_id", conv.AccountID, "fan_id", conv.FanID, "error", err)
	}
}

func direction(fanID string, m remote.Message) model.Direction {
	if m.FromUser.ID == fanID {
		return model.Inbound
	}
	return model.Outbound
}

func toFan(accountID string, f remote.Fan) *model.Fan {
	return &model.Fan{
		AccountID:   accountID,
		FanID:       f.ID,
		Username:    f.Username,
		DisplayName: f.Name,
		AvatarURL:   f.Avatar,
	}
}

func toMessage(accountID, fanID string, m remote.Message) *model.Message {
	ids := make([]string, 0, len(m.Media))
	for _, media := range m.Media {
		ids = append(ids, media.ID)
	}
	return &model.Message{
		ID:         m.ID,
		AccountID:  accountID,
		FanID:      fanID,
		Direction:  direction(fanID, m),
		Content:    m.Text,
		MediaIDs:   strings.Join(ids, ","),
		PriceCents: m.PriceCents,
		IsFree:     m.IsFree,
		IsOpened:   m.IsOpened,
		SentAt:     m.CreatedAt.UTC().Truncate(time.Microsecond),
	}
}

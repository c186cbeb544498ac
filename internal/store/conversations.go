package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/model"
)

// ErrNotFound is returned when a cached row does not exist.
var ErrNotFound = apperr.ErrNotFound

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// UpsertFan creates or refreshes a fan profile.
func (db *DB) UpsertFan(ctx context.Context, fan *model.Fan) error {
	query := db.Rebind(`
		INSERT INTO fans (account_id, fan_id, username, display_name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, fan_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
	`)
	_, err := db.ExecContext(ctx, query,
		fan.AccountID, fan.FanID, fan.Username, fan.DisplayName, fan.AvatarURL, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert fan: %w", err)
	}
	return nil
}

// GetFan returns a fan by its remote id
func (db *DB) GetFan(ctx context.Context, accountID, fanID string) (*model.Fan, error) {
	var fan model.Fan
	query := db.Rebind(`SELECT * FROM fans WHERE account_id = ? AND fan_id = ?`)
	err := db.GetContext(ctx, &fan, query, accountID, fanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fan: %w", err)
	}
	return &fan, nil
}

// UpsertConversation writes conv unless the cached row already has a newer
// last message. last_message_at therefore never moves backwards; an equal
// timestamp still refreshes the other columns.
func (db *DB) UpsertConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.Status == "" {
		conv.Status = model.ConversationOpen
	}
	query := db.Rebind(`
		INSERT INTO conversations (account_id, fan_id, last_message_at, last_message_preview, last_message_from, unread_count, is_unread, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, fan_id) DO UPDATE SET
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			last_message_from = excluded.last_message_from,
			unread_count = excluded.unread_count,
			is_unread = excluded.is_unread,
			updated_at = excluded.updated_at
		WHERE excluded.last_message_at >= conversations.last_message_at
	`)
	_, err := db.ExecContext(ctx, query,
		conv.AccountID,
		conv.FanID,
		utc(conv.LastMessageAt),
		conv.LastMessagePreview,
		string(conv.LastMessageFrom),
		conv.UnreadCount,
		conv.IsUnread,
		conv.Status,
		utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return nil
}

// GetConversation returns the cached conversation with a fan
func (db *DB) GetConversation(ctx context.Context, accountID, fanID string) (*model.Conversation, error) {
	var conv model.Conversation
	query := db.Rebind(`SELECT * FROM conversations WHERE account_id = ? AND fan_id = ?`)
	err := db.GetContext(ctx, &conv, query, accountID, fanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ConversationLastMessageAt returns the cached last-message time, and
// false when no row exists.
func (db *DB) ConversationLastMessageAt(ctx context.Context, accountID, fanID string) (time.Time, bool, error) {
	var at time.Time
	query := db.Rebind(`SELECT last_message_at FROM conversations WHERE account_id = ? AND fan_id = ?`)
	err := db.GetContext(ctx, &at, query, accountID, fanID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get conversation timestamp: %w", err)
	}
	return at, true, nil
}

// ListConversations returns the account's inbox, most recent first
func (db *DB) ListConversations(ctx context.Context, accountID string, limit int) ([]model.Conversation, error) {
	var convs []model.Conversation
	query := db.Rebind(`
		SELECT * FROM conversations
		WHERE account_id = ?
		ORDER BY last_message_at DESC
		LIMIT ?
	`)
	if err := db.SelectContext(ctx, &convs, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// MarkConversationRead clears the unread state
func (db *DB) MarkConversationRead(ctx context.Context, accountID, fanID string) error {
	query := db.Rebind(`
		UPDATE conversations SET unread_count = 0, is_unread = ?, updated_at = ?
		WHERE account_id = ? AND fan_id = ?
	`)
	res, err := db.ExecContext(ctx, query, false, utc(time.Now()), accountID, fanID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

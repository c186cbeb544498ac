package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mister-97/mappa-pro/internal/model"
)

// UpsertMessage stores msg keyed by its remote id. Re-ingesting the same id
// overwrites the row, so replays from polling and webhooks converge.
func (db *DB) UpsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.Status == "" {
		msg.Status = model.MessageDelivered
	}
	query := db.Rebind(`
		INSERT INTO messages (id, account_id, fan_id, direction, content, media_ids, price_cents, is_free, is_opened, sent_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			direction = excluded.direction,
			content = excluded.content,
			media_ids = excluded.media_ids,
			price_cents = excluded.price_cents,
			is_free = excluded.is_free,
			is_opened = excluded.is_opened,
			sent_at = excluded.sent_at,
			status = excluded.status,
			updated_at = excluded.updated_at
	`)
	_, err := db.ExecContext(ctx, query,
		msg.ID,
		msg.AccountID,
		msg.FanID,
		string(msg.Direction),
		msg.Content,
		msg.MediaIDs,
		msg.PriceCents,
		msg.IsFree,
		msg.IsOpened,
		utc(msg.SentAt),
		msg.Status,
		utc(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message: %w", err)
	}
	return nil
}

// GetMessage returns a message by remote id
func (db *DB) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	query := db.Rebind(`SELECT * FROM messages WHERE id = ?`)
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a thread, oldest first
func (db *DB) ListMessages(ctx context.Context, accountID, fanID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	query := db.Rebind(`
		SELECT * FROM (
			SELECT * FROM messages
			WHERE account_id = ? AND fan_id = ?
			ORDER BY sent_at DESC
			LIMIT ?
		) recent ORDER BY sent_at ASC
	`)
	if err := db.SelectContext(ctx, &msgs, query, accountID, fanID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// CountMessages counts cached messages for an account
func (db *DB) CountMessages(ctx context.Context, accountID string) (int, error) {
	var n int
	query := db.Rebind(`SELECT COUNT(*) FROM messages WHERE account_id = ?`)
	if err := db.GetContext(ctx, &n, query, accountID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

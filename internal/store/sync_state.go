package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mister-97/mappa-pro/internal/model"
)

func (db *DB) setSyncState(ctx context.Context, accountID string, status model.SyncStatus, syncedAt *time.Time, lastErr *string) error {
	// COALESCE keeps the previous last_synced_at when none is given.
	query := db.Rebind(`
		INSERT INTO sync_states (account_id, status, last_synced_at, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			status = excluded.status,
			last_synced_at = COALESCE(excluded.last_synced_at, sync_states.last_synced_at),
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`)
	var synced any
	if syncedAt != nil {
		synced = utc(*syncedAt)
	}
	_, err := db.ExecContext(ctx, query, accountID, string(status), synced, lastErr, utc(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}

// MarkSyncing records that a sync attempt has started
func (db *DB) MarkSyncing(ctx context.Context, accountID string) error {
	return db.setSyncState(ctx, accountID, model.SyncSyncing, nil, nil)
}

// MarkSynced records a successful sync and clears the last error
func (db *DB) MarkSynced(ctx context.Context, accountID string, at time.Time) error {
	return db.setSyncState(ctx, accountID, model.SyncIdle, &at, nil)
}

// MarkSyncFailed records a failed sync attempt
func (db *DB) MarkSyncFailed(ctx context.Context, accountID, message string) error {
	return db.setSyncState(ctx, accountID, model.SyncError, nil, &message)
}

// GetSyncState returns the sync status of an account
func (db *DB) GetSyncState(ctx context.Context, accountID string) (*model.SyncState, error) {
	var st model.SyncState
	query := db.Rebind(`SELECT * FROM sync_states WHERE account_id = ?`)
	err := db.GetContext(ctx, &st, query, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &st, nil
}

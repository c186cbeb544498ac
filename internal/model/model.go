package model

import "time"

// Credential is a creator account's OAuth token pair stored in DynamoDB.
// Tokens are stored encrypted; only auth.Manager and Disconnect mutate it.
type Credential struct {
	AccountID             string    `json:"account_id" dynamodbav:"account_id"`
	EncryptedAccessToken  string    `json:"encrypted_access_token" dynamodbav:"encrypted_access_token"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token" dynamodbav:"encrypted_refresh_token"`
	ExpiresAt             time.Time `json:"expires_at" dynamodbav:"expires_at"`
	Active                bool      `json:"active" dynamodbav:"active"`
	NeedsReattach         bool      `json:"needs_reattach" dynamodbav:"needs_reattach"`
	UpdatedAt             time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// Eligible reports whether the poller may sync this account.
func (c *Credential) Eligible() bool {
	return c.Active && !c.NeedsReattach
}

// SyncLease is a time-boxed per-account sync guard.
type SyncLease struct {
	AccountID string `json:"account_id" dynamodbav:"account_id"`
	Owner     string `json:"owner" dynamodbav:"owner"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix timestamp)
}

type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// SyncState records the poller's progress for one account.
type SyncState struct {
	AccountID    string     `db:"account_id" json:"account_id"`
	Status       SyncStatus `db:"status" json:"status"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastError    *string    `db:"last_error" json:"last_error,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Fan is a remote counterpart of a creator account.
type Fan struct {
	AccountID   string    `db:"account_id" json:"account_id"`
	FanID       string    `db:"fan_id" json:"fan_id"`
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	AvatarURL   string    `db:"avatar_url" json:"avatar_url"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Conversation is the cached inbox row for one fan.
type Conversation struct {
	AccountID          string    `db:"account_id" json:"account_id"`
	FanID              string    `db:"fan_id" json:"fan_id"`
	LastMessageAt      time.Time `db:"last_message_at" json:"last_message_at"`
	LastMessagePreview string    `db:"last_message_preview" json:"last_message_preview"`
	LastMessageFrom    Direction `db:"last_message_from" json:"last_message_from"`
	UnreadCount        int       `db:"unread_count" json:"unread_count"`
	IsUnread           bool      `db:"is_unread" json:"is_unread"`
	Status             string    `db:"status" json:"status"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

const ConversationOpen = "open"

// Message is keyed by the remote message id.
type Message struct {
	ID         string    `db:"id" json:"id"`
	AccountID  string    `db:"account_id" json:"account_id"`
	FanID      string    `db:"fan_id" json:"fan_id"`
	Direction  Direction `db:"direction" json:"direction"`
	Content    string    `db:"content" json:"content"`
	MediaIDs   string    `db:"media_ids" json:"media_ids"` // comma separated
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	IsFree     bool      `db:"is_free" json:"is_free"`
	IsOpened   bool      `db:"is_opened" json:"is_opened"`
	SentAt     time.Time `db:"sent_at" json:"sent_at"`
	Status     string    `db:"status" json:"status"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

const MessageDelivered = "delivered"

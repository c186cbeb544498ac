package store

// Timestamps are stored in UTC. TIMESTAMP (not TIMESTAMPTZ) keeps the
// column type one both drivers scan into time.Time.
const schema = `
CREATE TABLE IF NOT EXISTS fans (
    account_id TEXT NOT NULL,
    fan_id TEXT NOT NULL,
    username TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    avatar_url TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (account_id, fan_id)
);

CREATE TABLE IF NOT EXISTS conversations (
    account_id TEXT NOT NULL,
    fan_id TEXT NOT NULL,
    last_message_at TIMESTAMP NOT NULL,
    last_message_preview TEXT NOT NULL DEFAULT '',
    last_message_from TEXT NOT NULL DEFAULT '',
    unread_count INTEGER NOT NULL DEFAULT 0,
    is_unread BOOLEAN NOT NULL DEFAULT false,
    status TEXT NOT NULL DEFAULT 'open',
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (account_id, fan_id)
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    fan_id TEXT NOT NULL,
    direction TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    media_ids TEXT NOT NULL DEFAULT '',
    price_cents BIGINT NOT NULL DEFAULT 0,
    is_free BOOLEAN NOT NULL DEFAULT true,
    is_opened BOOLEAN NOT NULL DEFAULT false,
    sent_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL DEFAULT 'delivered',
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_states (
    account_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    last_synced_at TIMESTAMP,
    last_error TEXT,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_recent ON conversations(account_id, last_message_at);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(account_id, fan_id, sent_at);
`

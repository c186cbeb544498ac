// Package notify publishes inbox change events for downstream consumers
// (CRM screens, automations).
package notify

import (
	"context"
	"time"

	"github.com/Mister-97/mappa-pro/internal/model"
)

const (
	RoutingKeyConversationUpdated = "conversation.updated"
	RoutingKeySyncCompleted       = "sync.completed"
)

type ConversationUpdated struct {
	AccountID     string          `json:"account_id"`
	FanID         string          `json:"fan_id"`
	LastMessageAt time.Time       `json:"last_message_at"`
	Preview       string          `json:"preview"`
	Direction     model.Direction `json:"direction"`
	UnreadCount   int             `json:"unread_count"`
	Source        string          `json:"source"` // poll, webhook, send
}

type SyncCompleted struct {
	AccountID     string    `json:"account_id"`
	Conversations int       `json:"conversations"`
	Updated       int       `json:"updated"`
	FinishedAt    time.Time `json:"finished_at"`
}

type Notifier interface {
	ConversationUpdated(ctx context.Context, event ConversationUpdated) error
	SyncCompleted(ctx context.Context, event SyncCompleted) error
}

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, message any) error
}

// AMQPNotifier publishes events to a topic exchange.
type AMQPNotifier struct {
	publisher Publisher
	exchange  string
}

func NewAMQPNotifier(publisher Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher, exchange: exchange}
}

func (n *AMQPNotifier) ConversationUpdated(ctx context.Context, event ConversationUpdated) error {
	return n.publisher.Publish(ctx, n.exchange, RoutingKeyConversationUpdated, event)
}

func (n *AMQPNotifier) SyncCompleted(ctx context.Context, event SyncCompleted) error {
	return n.publisher.Publish(ctx, n.exchange, RoutingKeySyncCompleted, event)
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) ConversationUpdated(context.Context, ConversationUpdated) error { return nil }
func (Nop) SyncCompleted(context.Context, SyncCompleted) error             { return nil }

// Package outbox sends operator messages one at a time, in submission
// order, keeping failed sends visible until they are retried or discarded.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mister-97/mappa-pro/internal/apperr"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ErrWrongState is returned when an action does not apply to the item's
// current status.
var ErrWrongState = errors.New("outbox item in wrong state")

type Request struct {
	FanID      string   `json:"fan_id"`
	Text       string   `json:"text"`
	PriceCents int64    `json:"price_cents,omitempty"`
	MediaIDs   []string `json:"media_ids,omitempty"`
}

type Item struct {
	TempID    string    `json:"temp_id"`
	AccountID string    `json:"account_id"`
	Request   Request   `json:"request"`
	Status    Status    `json:"status"`
	ServerID  string    `json:"server_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SendFunc delivers one item and returns the platform's message id.
type SendFunc func(ctx context.Context, item Item) (string, error)

// Queue holds one account's outgoing messages. A single drain loop
// dispatches them strictly in order.
type Queue struct {
	accountID string
	send      SendFunc
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	items   []*Item  // display order, never reordered
	pending []string // temp ids waiting to be sent
	wake    chan struct{}
}

func NewQueue(accountID string, send SendFunc, logger *slog.Logger) *Queue {
	return &Queue{
		accountID: accountID,
		send:      send,
		logger:    logger.With("component", "outbox", "account_id", accountID),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue appends a message and returns its temporary id.
func (q *Queue) Enqueue(req Request) Item {
	now := q.now()
	item := &Item{
		TempID:    uuid.NewString(),
		AccountID: q.accountID,
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.pending = append(q.pending, item.TempID)
	snapshot := *item
	q.mu.Unlock()

	q.signal()
	return snapshot
}

// Items returns a snapshot in submission order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, *it)
	}
	return out
}

// Retry puts a failed item back at the tail of the send order. Its
// position in Items is unchanged.
func (q *Queue) Retry(tempID string) error {
	q.mu.Lock()
	item, err := q.findLocked(tempID, StatusFailed)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	item.Status = StatusQueued
	item.UpdatedAt = q.now()
	q.pending = append(q.pending, tempID)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Discard drops a failed item.
func (q *Queue) Discard(tempID string) error {
	return q.remove(tempID, StatusFailed)
}

// Acknowledge drops a sent item once the caller has seen its server id.
func (q *Queue) Acknowledge(tempID string) error {
	return q.remove(tempID, StatusSent)
}

func (q *Queue) remove(tempID string, want Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.findLocked(tempID, want); err != nil {
		return err
	}
	for i, it := range q.items {
		if it.TempID == tempID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	return nil
}

func (q *Queue) findLocked(tempID string, want Status) (*Item, error) {
	for _, it := range q.items {
		if it.TempID != tempID {
			continue
		}
		if it.Status != want {
			return nil, fmt.Errorf("%w: %s is %s", ErrWrongState, tempID, it.Status)
		}
		return it, nil
	}
	return nil, fmt.Errorf("outbox item %s: %w", tempID, apperr.ErrNotFound)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	for {
		item, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		serverID, err := q.send(ctx, item)
		q.finish(item.TempID, serverID, err)
		if ctx.Err() != nil {
			return
		}
	}
}

func (q *Queue) next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		for _, it := range q.items {
			if it.TempID == id && it.Status == StatusQueued {
				it.Status = StatusSending
				it.Attempts++
				it.UpdatedAt = q.now()
				return *it, true
			}
		}
	}
	return Item{}, false
}

func (q *Queue) finish(tempID, serverID string, sendErr error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.TempID != tempID {
			continue
		}
		it.UpdatedAt = q.now()
		if sendErr != nil {
			it.Status = StatusFailed
			it.LastError = sendErr.Error()
			q.logger.Warn("send failed", "temp_id", tempID, "attempts", it.Attempts,
				"kind", apperr.Classify(sendErr).String(), "error", sendErr)
			return
		}
		it.Status = StatusSent
		it.ServerID = serverID
		it.LastError = ""
		q.logger.Info("message sent", "temp_id", tempID, "server_id", serverID)
		return
	}
}

package outbox

import (
	"context"
	"log/slog"
	"sync"
)

// Registry keeps one queue per account so that a slow account never holds
// up another.
type Registry struct {
	ctx    context.Context
	send   SendFunc
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*Queue
	wg     sync.WaitGroup
}

// NewRegistry creates a registry whose queues drain until ctx is done.
func NewRegistry(ctx context.Context, send SendFunc, logger *slog.Logger) *Registry {
	return &Registry{
		ctx:    ctx,
		send:   send,
		logger: logger,
		queues: make(map[string]*Queue),
	}
}

// Queue returns the account's queue, starting it on first use.
func (r *Registry) Queue(accountID string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[accountID]; ok {
		return q
	}
	q := NewQueue(accountID, r.send, r.logger)
	r.queues[accountID] = q
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		q.Run(r.ctx)
	}()
	return q
}

// Wait blocks until every queue has stopped.
func (r *Registry) Wait() {
	r.wg.Wait()
}

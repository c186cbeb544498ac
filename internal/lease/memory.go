package lease

import (
	"context"
	"sync"
	"time"

	"github.com/Mister-97/mappa-pro/internal/model"
)

// MemoryLocker implements Locker in-process, for the single-instance
// server and tests.
type MemoryLocker struct {
	leases map[string]model.SyncLease
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{
		leases: make(map[string]model.SyncLease),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryLocker) Acquire(_ context.Context, accountID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if existing, ok := m.leases[accountID]; ok {
		if existing.ExpiresAt >= now && existing.Owner != owner {
			return ErrHeld
		}
	}
	m.leases[accountID] = model.SyncLease{
		AccountID: accountID,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}
	return nil
}

func (m *MemoryLocker) Release(_ context.Context, accountID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.leases[accountID]; ok && existing.Owner == owner {
		delete(m.leases, accountID)
	}
	return nil
}

// Package lease guards per-account sync work so that overlapping poll
// ticks, a manual "sync now", and other instances never work on the same
// account at once.
package lease

import (
	"context"
	"errors"
	"time"
)

const DefaultTTL = 2 * time.Minute

// ErrHeld is returned by Acquire when another owner holds a live lease.
var ErrHeld = errors.New("lease held by another owner")

// Locker hands out time-boxed leases keyed by account id.
type Locker interface {
	// Acquire takes the lease for owner. It succeeds when no lease exists,
	// the existing one has expired, or owner already holds it.
	Acquire(ctx context.Context, accountID, owner string) error

	// Release drops the lease if owner still holds it.
	Release(ctx context.Context, accountID, owner string) error
}

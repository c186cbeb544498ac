package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Mister-97/mappa-pro/internal/apperr"
	"github.com/Mister-97/mappa-pro/internal/lease"
	"github.com/Mister-97/mappa-pro/internal/model"
	"github.com/Mister-97/mappa-pro/internal/notify"
	"github.com/Mister-97/mappa-pro/internal/rangefetch"
	"github.com/Mister-97/mappa-pro/internal/remote"
	"github.com/Mister-97/mappa-pro/internal/retry"
	"github.com/Mister-97/mappa-pro/internal/store"
)

// AccountLister returns the accounts a tick should visit.
type AccountLister interface {
	ListEligible(ctx context.Context) ([]model.Credential, error)
}

type PollerOptions struct {
	Interval  time.Duration
	GroupSize int
	PageSize  int
	Retry     retry.Options
}

func (o PollerOptions) withDefaults() PollerOptions {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.GroupSize <= 0 {
		o.GroupSize = 5
	}
	if o.PageSize <= 0 {
		o.PageSize = 20
	}
	return o
}

// TickResult summarises one pass over the eligible accounts.
type TickResult struct {
	Skipped  bool // another tick was still running
	Accounts int
	Synced   int
	Busy     int
	Failed   int
}

// Poller periodically reconciles every eligible account.
type Poller struct {
	accounts   AccountLister
	locker     lease.Locker
	db         *store.DB
	remote     Remote
	reconciler *Reconciler
	notifier   notify.Notifier
	logger     *slog.Logger
	opts       PollerOptions
	now        func() time.Time

	busy atomic.Bool
}

func NewPoller(accounts AccountLister, locker lease.Locker, db *store.DB, r Remote, reconciler *Reconciler, notifier notify.Notifier, logger *slog.Logger, opts PollerOptions) *Poller {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Poller{
		accounts:   accounts,
		locker:     locker,
		db:         db,
		remote:     r,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger.With("component", "poller"),
		opts:       opts.withDefaults(),
		now:        time.Now,
	}
}

// Run ticks until ctx is done. The first tick fires immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.opts.Interval, "group_size", p.opts.GroupSize)
	for {
		p.Tick(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick visits every eligible account once. A tick that starts while the
// previous one is still running returns immediately with Skipped set.
func (p *Poller) Tick(ctx context.Context) TickResult {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("previous tick still running, skipping")
		return TickResult{Skipped: true}
	}
	defer p.busy.Store(false)

	start := time.Now()
	accounts, err := p.accounts.ListEligible(ctx)
	if err != nil {
		p.logger.Error("failed to list accounts", "error", err)
		return TickResult{}
	}

	var synced, held, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(p.opts.GroupSize)
	for _, acct := range accounts {
		g.Go(func() error {
			err := p.syncAccount(ctx, acct.AccountID)
			switch {
			case err == nil:
				synced.Add(1)
			case errors.Is(err, apperr.ErrSyncInProgress):
				held.Add(1)
			default:
				failed.Add(1)
				p.logger.Warn("account sync failed",
					"account_id", acct.AccountID,
					"kind", apperr.Classify(err).String(),
					"error", err)
			}
			// Never fail the group; one account must not cancel the rest.
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Accounts: len(accounts),
		Synced:   int(synced.Load()),
		Busy:     int(held.Load()),
		Failed:   int(failed.Load()),
	}
	p.logger.Info("tick finished",
		"accounts", res.Accounts, "synced", res.Synced, "busy", res.Busy, "failed", res.Failed,
		"duration", time.Since(start))
	return res
}

// SyncNow reconciles one account immediately and returns its error.
func (p *Poller) SyncNow(ctx context.Context, accountID string) error {
	return p.syncAccount(ctx, accountID)
}

// Status returns the recorded sync state of an account.
func (p *Poller) Status(ctx context.Context, accountID string) (*model.SyncState, error) {
	return p.db.GetSyncState(ctx, accountID)
}

func (p *Poller) syncAccount(ctx context.Context, accountID string) error {
	logger := p.logger.With("account_id", accountID)

	owner := uuid.NewString()
	if err := p.locker.Acquire(ctx, accountID, owner); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			logger.Debug("account already syncing")
			return fmt.Errorf("account %s: %w", accountID, apperr.ErrSyncInProgress)
		}
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), accountID, owner); err != nil {
			logger.Warn("failed to release lease", "error", err)
		}
	}()

	if err := p.db.MarkSyncing(ctx, accountID); err != nil {
		return err
	}

	updated, total, err := p.reconcileChats(ctx, accountID)
	if err != nil {
		if mErr := p.db.MarkSyncFailed(context.WithoutCancel(ctx), accountID, err.Error()); mErr != nil {
			logger.Error("failed to record sync failure", "error", mErr)
		}
		return err
	}

	finished := p.now()
	if err := p.db.MarkSynced(ctx, accountID, finished); err != nil {
		return err
	}
	logger.Debug("account synced", "conversations", total, "updated", updated)

	event := notify.SyncCompleted{
		AccountID:     accountID,
		Conversations: total,
		Updated:       updated,
		FinishedAt:    finished,
	}
	if err := p.notifier.SyncCompleted(ctx, event); err != nil {
		logger.Warn("failed to publish sync completion", "error", err)
	}
	return nil
}

func (p *Poller) reconcileChats(ctx context.Context, accountID string) (updated, total int, err error) {
	page, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (rangefetch.Page[remote.Chat], error) {
		return p.remote.ListChats(ctx, accountID, p.opts.PageSize)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list chats: %w", err)
	}

	var errs []error
	for _, chat := range page.Data {
		changed, err := p.reconciler.ApplyChat(ctx, accountID, chat)
		if err != nil {
			errs = append(errs, fmt.Errorf("fan %s: %w", chat.Fan.ID, err))
		}
		if changed {
			updated++
		}
	}
	return updated, len(page.Data), errors.Join(errs...)
}

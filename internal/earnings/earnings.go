// Package earnings aggregates an account's transactions and subscriber
// activity over a date range.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Mister-97/mappa-pro/internal/rangefetch"
	"github.com/Mister-97/mappa-pro/internal/remote"
	"github.com/Mister-97/mappa-pro/internal/retry"
)

const DateLayout = "2006-01-02"

var ErrInvalidRange = errors.New("end date before start date")

type Source interface {
	Transactions(ctx context.Context, accountID string, w rangefetch.Window, cursor string) (rangefetch.Page[remote.Transaction], error)
	SubscriberEvents(ctx context.Context, accountID string, w rangefetch.Window, cursor string) (rangefetch.Page[remote.SubscriberEvent], error)
}

type Options struct {
	MaxSpan     time.Duration
	Concurrency int
	MaxPages    int
	Retry       retry.Options
}

// Summary amounts are net of platform fees. Net is the only major-unit
// value; everything else stays in minor units.
type Summary struct {
	AccountID      string           `json:"account_id"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Currency       string           `json:"currency,omitempty"`
	Net            string           `json:"net"`
	NetCents       int64            `json:"net_cents"`
	GrossCents     int64            `json:"gross_cents"`
	FeeCents       int64            `json:"fee_cents"`
	ByType         map[string]int64 `json:"net_cents_by_type"`
	Transactions   int              `json:"transactions"`
	NewSubscribers int              `json:"new_subscribers"`
	Renewals       int              `json:"renewals"`
	Expirations    int              `json:"expirations"`
}

type Service struct {
	source Source
	logger *slog.Logger
	opts   Options
}

func NewService(source Source, logger *slog.Logger, opts Options) *Service {
	return &Service{source: source, logger: logger.With("component", "earnings"), opts: opts}
}

// Summary covers the calendar days from..to in UTC, both inclusive.
func (s *Service) Summary(ctx context.Context, accountID string, from, to time.Time) (*Summary, error) {
	start := day(from)
	end := day(to).AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidRange, start.Format(DateLayout), day(to).Format(DateLayout))
	}

	txFetcher := rangefetch.New(func(ctx context.Context, w rangefetch.Window, cursor string) (rangefetch.Page[remote.Transaction], error) {
		page, err := s.source.Transactions(ctx, accountID, w, cursor)
		return clip(page, w, func(tx remote.Transaction) time.Time { return tx.CreatedAt }), err
	}, s.logger, fetchOptions[remote.Transaction](s.opts)...)
	subFetcher := rangefetch.New(func(ctx context.Context, w rangefetch.Window, cursor string) (rangefetch.Page[remote.SubscriberEvent], error) {
		page, err := s.source.SubscriberEvents(ctx, accountID, w, cursor)
		return clip(page, w, func(ev remote.SubscriberEvent) time.Time { return ev.CreatedAt }), err
	}, s.logger, fetchOptions[remote.SubscriberEvent](s.opts)...)

	txs, err := txFetcher.FetchRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	subs, err := subFetcher.FetchRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		AccountID: accountID,
		From:      start.Format(DateLayout),
		To:        day(to).Format(DateLayout),
		ByType:    make(map[string]int64),
	}
	for _, tx := range txs {
		sum.NetCents += tx.NetCents
		sum.GrossCents += tx.AmountCents
		sum.FeeCents += tx.FeeCents
		sum.ByType[tx.Type] += tx.NetCents
		if sum.Currency == "" {
			sum.Currency = tx.Currency
		}
	}
	sum.Transactions = len(txs)
	sum.Net = FormatMinor(sum.NetCents)

	for _, ev := range subs {
		switch ev.Type {
		case "new":
			sum.NewSubscribers++
		case "renew":
			sum.Renewals++
		case "expire":
			sum.Expirations++
		}
	}

	s.logger.Debug("summary computed", "account_id", accountID,
		"from", sum.From, "to", sum.To, "transactions", sum.Transactions)
	return sum, nil
}

// clip drops records outside [w.Start, w.End). A record stamped exactly on
// a boundary belongs to the later window even if the platform also returns
// it for the earlier one.
func clip[T any](page rangefetch.Page[T], w rangefetch.Window, at func(T) time.Time) rangefetch.Page[T] {
	kept := page.Data[:0:0]
	for _, item := range page.Data {
		t := at(item)
		if !t.Before(w.Start) && t.Before(w.End) {
			kept = append(kept, item)
		}
	}
	page.Data = kept
	return page
}

func fetchOptions[T any](o Options) []rangefetch.Option[T] {
	opts := []rangefetch.Option[T]{rangefetch.WithRetry[T](o.Retry)}
	if o.MaxSpan > 0 {
		opts = append(opts, rangefetch.WithMaxSpan[T](o.MaxSpan))
	}
	if o.Concurrency > 0 {
		opts = append(opts, rangefetch.WithConcurrency[T](o.Concurrency))
	}
	if o.MaxPages > 0 {
		opts = append(opts, rangefetch.WithMaxPages[T](o.MaxPages))
	}
	return opts
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatMinor renders minor units as a two-decimal major amount.
func FormatMinor(cents int64) string {
	sign := ""
	u := uint64(cents)
	if cents < 0 {
		sign = "-"
		u = uint64(-cents)
	}
	frac := strconv.FormatUint(u%100, 10)
	if len(frac) == 1 {
		frac = "0" + frac
	}
	return sign + strconv.FormatUint(u/100, 10) + "." + frac
}

// Package rangefetch retrieves large date ranges from cursor-paginated
// endpoints by splitting them into bounded windows fetched concurrently.
package rangefetch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Mister-97/mappa-pro/internal/retry"
)

const (
	DefaultMaxSpan     = 28 * 24 * time.Hour
	DefaultConcurrency = 3
	DefaultMaxPages    = 100
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Page is one response from a cursor-paginated endpoint.
type Page[T any] struct {
	Data       []T     `json:"data"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// PageFunc fetches one page of window; cursor is empty for the first page.
type PageFunc[T any] func(ctx context.Context, w Window, cursor string) (Page[T], error)

// Split partitions [start, end) into contiguous windows no longer than
// maxSpan. A reversed or empty range yields the single window {start, end}.
func Split(start, end time.Time, maxSpan time.Duration) []Window {
	if !end.After(start) || maxSpan <= 0 {
		return []Window{{Start: start, End: end}}
	}
	var out []Window
	for cur := start; cur.Before(end); {
		next := cur.Add(maxSpan)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

// Fetcher pulls every record in a range through fetch.
type Fetcher[T any] struct {
	fetch       PageFunc[T]
	maxSpan     time.Duration
	concurrency int
	maxPages    int
	retry       retry.Options
	logger      *slog.Logger
}

type Option[T any] func(*Fetcher[T])

func WithMaxSpan[T any](d time.Duration) Option[T] {
	return func(f *Fetcher[T]) { f.maxSpan = d }
}

func WithConcurrency[T any](n int) Option[T] {
	return func(f *Fetcher[T]) { f.concurrency = n }
}

func WithMaxPages[T any](n int) Option[T] {
	return func(f *Fetcher[T]) { f.maxPages = n }
}

func WithRetry[T any](o retry.Options) Option[T] {
	return func(f *Fetcher[T]) { f.retry = o }
}

func New[T any](fetch PageFunc[T], logger *slog.Logger, opts ...Option[T]) *Fetcher[T] {
	f := &Fetcher[T]{
		fetch:       fetch,
		maxSpan:     DefaultMaxSpan,
		concurrency: DefaultConcurrency,
		maxPages:    DefaultMaxPages,
		logger:      logger.With("component", "rangefetch"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.concurrency <= 0 {
		f.concurrency = DefaultConcurrency
	}
	if f.maxPages <= 0 {
		f.maxPages = DefaultMaxPages
	}
	return f
}

// FetchRange returns every record in [start, end), concatenated in window
// order. A window that fails is logged and contributes nothing; the only
// error returned is the context's.
func (f *Fetcher[T]) FetchRange(ctx context.Context, start, end time.Time) ([]T, error) {
	windows := Split(start, end, f.maxSpan)
	results := make([][]T, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, w := range windows {
		g.Go(func() error {
			items, err := f.fetchWindow(gctx, w)
			if err != nil {
				f.logger.Warn("window fetch failed",
					"start", w.Start, "end", w.End, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []T
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

func (f *Fetcher[T]) fetchWindow(ctx context.Context, w Window) ([]T, error) {
	var (
		items  []T
		cursor string
	)
	for page := 0; page < f.maxPages; page++ {
		p, err := retry.Do(ctx, f.retry, func(ctx context.Context) (Page[T], error) {
			return f.fetch(ctx, w, cursor)
		})
		if err != nil {
			return nil, err
		}
		items = append(items, p.Data...)
		if p.NextCursor == nil || *p.NextCursor == "" {
			return items, nil
		}
		cursor = *p.NextCursor
	}
	f.logger.Warn("page cap reached", "start", w.Start, "end", w.End, "pages", f.maxPages)
	return items, nil
}

package rangefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/Mister-97/mappa-pro/internal/retry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(s string) *string { return &s }

func TestSplit_ThreeWindows(t *testing.T) {
	start, end := day(2026, 1, 1), day(2026, 3, 15)
	windows := Split(start, end, 28*24*time.Hour)

	require.Len(t, windows, 3)
	assert.Equal(t, Window{day(2026, 1, 1), day(2026, 1, 29)}, windows[0])
	assert.Equal(t, Window{day(2026, 1, 29), day(2026, 2, 26)}, windows[1])
	assert.Equal(t, Window{day(2026, 2, 26), day(2026, 3, 15)}, windows[2])
	assert.Equal(t, 17*24*time.Hour, windows[2].End.Sub(windows[2].Start))
}

func TestSplit_Coverage(t *testing.T) {
	spans := []time.Duration{time.Hour, 24 * time.Hour, 7 * 24 * time.Hour, 28 * 24 * time.Hour}
	start := day(2025, 11, 3).Add(5 * time.Hour)
	for _, span := range spans {
		for _, length := range []time.Duration{time.Minute, 13 * time.Hour, 90 * 24 * time.Hour} {
			end := start.Add(length)
			windows := Split(start, end, span)

			require.NotEmpty(t, windows)
			assert.Equal(t, start, windows[0].Start)
			assert.Equal(t, end, windows[len(windows)-1].End)
			for i, w := range windows {
				assert.LessOrEqual(t, w.End.Sub(w.Start), span)
				assert.True(t, w.End.After(w.Start))
				if i > 0 {
					assert.Equal(t, windows[i-1].End, w.Start, "windows must be contiguous")
				}
			}
		}
	}
}

func TestSplit_Degenerate(t *testing.T) {
	start := day(2026, 2, 1)
	assert.Equal(t, []Window{{start, start}}, Split(start, start, DefaultMaxSpan))

	earlier := day(2026, 1, 1)
	assert.Equal(t, []Window{{start, earlier}}, Split(start, earlier, DefaultMaxSpan))
}

func TestFetchRange_PagesConcatenatedInWindowOrder(t *testing.T) {
	fetch := func(ctx context.Context, w Window, cursor string) (Page[string], error) {
		label := w.Start.Format("01-02")
		if cursor == "" {
			return Page[string]{Data: []string{label + "/a"}, NextCursor: ptr("p2")}, nil
		}
		// later windows answer faster
		time.Sleep(time.Duration(w.Start.Month()) * time.Millisecond)
		return Page[string]{Data: []string{label + "/b"}}, nil
	}

	f := New(fetch, discard)
	got, err := f.FetchRange(context.Background(), day(2026, 1, 1), day(2026, 3, 15))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"01-01/a", "01-01/b",
		"01-29/a", "01-29/b",
		"02-26/a", "02-26/b",
	}, got)
}

func TestFetchRange_FailedWindowIsolated(t *testing.T) {
	fetch := func(ctx context.Context, w Window, cursor string) (Page[int], error) {
		if w.Start.Equal(day(2026, 1, 29)) {
			return Page[int]{}, &googleapi.Error{Code: http.StatusBadGateway}
		}
		return Page[int]{Data: []int{w.Start.Day()}}, nil
	}

	got, err := New(fetch, discard).FetchRange(context.Background(), day(2026, 1, 1), day(2026, 3, 15))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 26}, got)
}

func TestFetchRange_ConcurrencyBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	fetch := func(ctx context.Context, w Window, cursor string) (Page[int], error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return Page[int]{Data: []int{1}}, nil
	}

	f := New(fetch, discard, WithMaxSpan[int](24*time.Hour))
	got, err := f.FetchRange(context.Background(), day(2026, 1, 1), day(2026, 1, 21))

	require.NoError(t, err)
	assert.Len(t, got, 20)
	assert.LessOrEqual(t, peak.Load(), int32(DefaultConcurrency))
}

func TestFetchRange_PageCap(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, w Window, cursor string) (Page[int], error) {
		n := calls.Add(1)
		return Page[int]{Data: []int{int(n)}, NextCursor: ptr(fmt.Sprint(n))}, nil
	}

	f := New(fetch, discard, WithMaxPages[int](4))
	got, err := f.FetchRange(context.Background(), day(2026, 1, 1), day(2026, 1, 2))

	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, int32(4), calls.Load())
}

func TestFetchRange_RetriesRateLimitedPage(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	fetch := func(ctx context.Context, w Window, cursor string) (Page[int], error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return Page[int]{}, &googleapi.Error{Code: http.StatusTooManyRequests}
		}
		return Page[int]{Data: []int{7}}, nil
	}

	noSleep := retry.Options{Sleep: func(context.Context, time.Duration) error { return nil }}
	f := New(fetch, discard, WithRetry[int](noSleep))
	got, err := f.FetchRange(context.Background(), day(2026, 1, 1), day(2026, 1, 2))

	require.NoError(t, err)
	assert.Equal(t, []int{7}, got)
	assert.Equal(t, 2, attempts)
}

func TestFetchRange_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetch := func(ctx context.Context, w Window, cursor string) (Page[int], error) {
		return Page[int]{}, ctx.Err()
	}

	_, err := New(fetch, discard).FetchRange(ctx, day(2026, 1, 1), day(2026, 3, 1))
	assert.True(t, errors.Is(err, context.Canceled))
}

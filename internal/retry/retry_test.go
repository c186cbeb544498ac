package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func testOptions(r *recorder) Options {
	return Options{
		Sleep:  r.sleep,
		Now:    func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		Jitter: func(time.Duration) time.Duration { return 0 },
	}
}

func rateLimited(retryAfter string) error {
	h := http.Header{}
	if retryAfter != "" {
		h.Set("Retry-After", retryAfter)
	}
	return &googleapi.Error{Code: http.StatusTooManyRequests, Header: h}
}

func TestDo_SucceedsAfterRateLimit(t *testing.T) {
	r := &recorder{}
	calls := 0
	got, err := Do(context.Background(), testOptions(r), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", rateLimited("")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, r.waits)
}

func TestDo_RetryAfterSecondsWins(t *testing.T) {
	r := &recorder{}
	calls := 0
	_, err := Do(context.Background(), testOptions(r), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, rateLimited("2")
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, r.waits)
}

func TestDo_RetryAfterDate(t *testing.T) {
	r := &recorder{}
	opts := testOptions(r)
	date := opts.Now().Add(5 * time.Second).Format(http.TimeFormat)
	calls := 0
	_, err := Do(context.Background(), opts, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, rateLimited(date)
		}
		return 1, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, r.waits)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	r := &recorder{}
	calls := 0
	last := rateLimited("")
	_, err := Do(context.Background(), testOptions(r), func(context.Context) (int, error) {
		calls++
		return 0, last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 4, calls)
	assert.Len(t, r.waits, 3)
}

func TestDo_NonRateLimitedReturnedImmediately(t *testing.T) {
	r := &recorder{}
	boom := &googleapi.Error{Code: http.StatusInternalServerError}
	calls := 0
	_, err := Do(context.Background(), testOptions(r), func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, r.waits)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{BaseDelay: time.Hour}
	calls := 0

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, opts, func(context.Context) (int, error) {
			calls++
			return 0, rateLimited("")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestWait_Monotonic(t *testing.T) {
	opts := Options{Jitter: func(max time.Duration) time.Duration { return max - 1 }}
	err := rateLimited("")
	prevMin := time.Duration(0)
	for attempt := 0; attempt < 6; attempt++ {
		d := Wait(attempt, opts, err)
		min := Backoff(attempt, DefaultBaseDelay)
		assert.GreaterOrEqual(t, d, min)
		assert.Less(t, d, min+DefaultMaxJitter)
		assert.Greater(t, min, prevMin)
		prevMin = min
	}
}

func TestWait_JitterBounded(t *testing.T) {
	err := rateLimited("")
	for i := 0; i < 200; i++ {
		d := Wait(1, Options{}, err)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 2*time.Second+DefaultMaxJitter)
	}
}

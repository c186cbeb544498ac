package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRedialDelay(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, redialDelay(0))
	assert.Equal(t, time.Second, redialDelay(1))
	assert.Equal(t, 16*time.Second, redialDelay(5))
	assert.Equal(t, maxRedialDelay, redialDelay(6))
	assert.Equal(t, maxRedialDelay, redialDelay(64))
}

func TestClient_PublishWhileDisconnected(t *testing.T) {
	c := newClient("amqp://broker", "crm.events", discard)

	assert.False(t, c.Connected())
	err := c.Publish(context.Background(), "crm.events", RoutingKeySyncCompleted, SyncCompleted{AccountID: "acct-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestClient_ConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	c := newClient("amqp://broker", "crm.events", discard)
	c.dial = func(string) (*amqp.Connection, error) { return nil, refused }

	err := c.connect()
	assert.ErrorIs(t, err, refused)
	assert.False(t, c.Connected())
}

func TestClient_RedialUntilClosed(t *testing.T) {
	var attempts atomic.Int32
	c := newClient("amqp://broker", "crm.events", discard)
	c.dial = func(string) (*amqp.Connection, error) {
		attempts.Add(1)
		return nil, errors.New("connection refused")
	}
	var delays []int
	delaysCh := make(chan int, 64)
	c.delay = func(attempt int) time.Duration {
		select {
		case delaysCh <- attempt:
		default:
		}
		return time.Millisecond
	}

	stopped := make(chan struct{})
	go func() {
		c.redial()
		close(stopped)
	}()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("redial kept running after Close")
	}

	close(delaysCh)
	for a := range delaysCh {
		delays = append(delays, a)
	}
	require.GreaterOrEqual(t, len(delays), 3)
	assert.Equal(t, []int{0, 1, 2}, delays[:3])

	after := attempts.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, attempts.Load())
}

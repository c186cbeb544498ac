package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("amqp: not connected")

const (
	minRedialDelay = 500 * time.Millisecond
	maxRedialDelay = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// Client publishes to one topic exchange and keeps its broker link alive:
// when the connection or channel drops it redials in the background, and
// Publish fails fast with ErrNotConnected until the link is back.
type Client struct {
	url      string
	exchange string
	logger   *slog.Logger

	dial  func(url string) (*amqp.Connection, error)
	delay func(attempt int) time.Duration

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient dials the broker and declares exchange as a durable topic
// exchange. The first dial must succeed.
func NewClient(url, exchange string, logger *slog.Logger) (*Client, error) {
	c := newClient(url, exchange, logger)
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("failed to create AMQP client: %w", err)
	}
	return c, nil
}

func newClient(url, exchange string, logger *slog.Logger) *Client {
	return &Client{
		url:      url,
		exchange: exchange,
		logger:   logger.With("component", "amqp", "exchange", exchange),
		dial:     amqp.Dial,
		delay:    redialDelay,
		done:     make(chan struct{}),
	}
}

func (c *Client) connect() error {
	conn, err := c.dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange %q: %w", c.exchange, err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		// Close won the race with a redial.
		c.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	default:
	}
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chanClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	c.wg.Add(1)
	go c.watch(conn, connClosed, chanClosed)

	c.logger.Info("AMQP client connected")
	return nil
}

// watch waits for the link to drop and then redials until it is back or
// the client is closed.
func (c *Client) watch(conn *amqp.Connection, connClosed, chanClosed <-chan *amqp.Error) {
	defer c.wg.Done()

	var reason *amqp.Error
	select {
	case <-c.done:
		return
	case reason = <-connClosed:
	case reason = <-chanClosed:
		// A channel exception leaves the connection open; drop it and start over.
		conn.Close()
	}

	c.mu.Lock()
	c.conn, c.channel = nil, nil
	c.mu.Unlock()
	c.logger.Warn("AMQP link lost, reconnecting", "reason", reason)

	c.redial()
}

func (c *Client) redial() {
	for attempt := 0; ; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.delay(attempt)):
		}
		err := c.connect()
		if err == nil {
			return
		}
		c.logger.Warn("AMQP reconnect failed", "attempt", attempt+1, "error", err)
	}
}

// redialDelay doubles from minRedialDelay up to maxRedialDelay.
func redialDelay(attempt int) time.Duration {
	if attempt >= 10 {
		return maxRedialDelay
	}
	return min(minRedialDelay<<attempt, maxRedialDelay)
}

// Connected reports whether a usable channel is open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel != nil && !c.channel.IsClosed()
}

// Close stops reconnecting and closes the current link.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		// Closing the connection also closes its channel.
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// Publish sends message as persistent JSON. Without a deadline on ctx the
// broker gets publishTimeout to accept it.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("publish %s: %w", routingKey, ErrNotConnected)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s to %q: %w", routingKey, exchange, err)
	}
	return nil
}

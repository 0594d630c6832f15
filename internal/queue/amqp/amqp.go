// Package amqp implements the batch queue on RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/queue"
)

// Config identifies the broker and queue.
type Config struct {
	URL   string
	Queue string
	// Prefetch is the number of unacknowledged deliveries a consumer may hold.
	Prefetch    int
	ConsumerTag string
}

// dialer is swapped in tests.
type dialer func(url string) (*amqp.Connection, error)

// Client is a lazily connected RabbitMQ client. A connection failure drops the
// connection so that the next call redials.
type Client struct {
	cfg    Config
	dial   dialer
	logger *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	consuming <-chan amqp.Delivery
	closed    bool
}

var (
	_ queue.Channel = (*Client)(nil)
	_ queue.Source  = (*Client)(nil)
)

// New validates cfg and returns an unconnected client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultName
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, dial: amqp.Dial, logger: logger}, nil
}

// Connect dials the broker and declares the queue.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.channelLocked()
	return err
}

func (c *Client) channelLocked() (*amqp.Channel, error) {
	if c.closed {
		return nil, queue.ErrClosed
	}
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	c.resetLocked()
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return nil, queue.ConnectionError(fmt.Errorf("dial: %w", err))
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, queue.ConnectionError(fmt.Errorf("open channel: %w", err))
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, classify(fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err))
	}
	c.conn = conn
	c.ch = ch
	c.logger.Info("amqp connected", zap.String("queue", c.cfg.Queue))
	return ch, nil
}

func (c *Client) resetLocked() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("amqp close stale connection", zap.Error(err))
		}
	}
	c.conn = nil
	c.ch = nil
	c.consuming = nil
}

// Publish sends body as a persistent message on the default exchange.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channelLocked()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		err = classify(fmt.Errorf("publish: %w", err))
		if errors.Is(err, queue.ErrConnection) {
			c.resetLocked()
		}
		return err
	}
	return nil
}

// Receive returns the next delivery. The consumer is registered with the
// configured prefetch on first use and re-registered after a connection loss.
func (c *Client) Receive(ctx context.Context) (queue.Delivery, error) {
	deliveries, err := c.deliveries()
	if err != nil {
		return queue.Delivery{}, err
	}
	select {
	case <-ctx.Done():
		return queue.Delivery{}, fmt.Errorf("receive canceled: %w", ctx.Err())
	case d, ok := <-deliveries:
		if !ok {
			c.mu.Lock()
			c.resetLocked()
			c.mu.Unlock()
			return queue.Delivery{}, queue.ConnectionError(errors.New("delivery channel closed"))
		}
		id := d.MessageId
		if id == "" {
			id = strconv.FormatUint(d.DeliveryTag, 10)
		}
		return queue.NewDelivery(id, d.Body, d.Redelivered,
			func() error { return d.Ack(false) },
			func(requeue bool) error { return d.Nack(false, requeue) },
		), nil
	}
}

func (c *Client) deliveries() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consuming != nil && c.ch != nil && !c.ch.IsClosed() {
		return c.consuming, nil
	}
	ch, err := c.channelLocked()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, classify(fmt.Errorf("set qos: %w", err))
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("consume %s: %w", c.cfg.Queue, err))
	}
	c.consuming = deliveries
	return deliveries, nil
}

// Close shuts the connection down; later calls fail with queue.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close amqp connection: %w", err)
	}
	return nil
}

// classify marks broker and network failures as connection errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var amqpErr *amqp.Error
	var netErr net.Error
	switch {
	case errors.Is(err, amqp.ErrClosed):
		return queue.ConnectionError(err)
	case errors.As(err, &amqpErr) && (amqpErr.Recover || amqpErr.Code == amqp.ConnectionForced || amqpErr.Code == amqp.ChannelError):
		return queue.ConnectionError(err)
	case errors.As(err, &netErr):
		return queue.ConnectionError(err)
	default:
		return err
	}
}

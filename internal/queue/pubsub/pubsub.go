// Package pubsub implements the batch queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/ccextract/internal/queue"
)

// Config names the topic batches are published to and the subscription
// workers pull from.
type Config struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// Client adapts a Pub/Sub topic and subscription to queue.Channel and
// queue.Source. Receive bridges the callback based Subscription API into a
// blocking call with at most one outstanding message. When the background
// subscription stops, the next Receive starts a new one.
type Client struct {
	client       *pubsub.Client
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	logger       *zap.Logger

	mu     sync.Mutex
	active *receiver
	closed bool
}

// receiver is one run of Subscription.Receive.
type receiver struct {
	messages chan *pubsub.Message
	done     chan struct{}
	err      error
	cancel   context.CancelFunc
}

var (
	_ queue.Channel = (*Client)(nil)
	_ queue.Source  = (*Client)(nil)
)

// New creates the Pub/Sub client using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing Pub/Sub client. Close closes client.
func NewWithClient(client *pubsub.Client, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{client: client, logger: logger}
	if cfg.Topic != "" {
		c.topic = client.Topic(cfg.Topic)
	}
	if cfg.Subscription != "" {
		c.subscription = client.Subscription(cfg.Subscription)
		c.subscription.ReceiveSettings.MaxOutstandingMessages = 1
		c.subscription.ReceiveSettings.NumGoroutines = 1
	}
	return c
}

func (cfg Config) validate() error {
	if cfg.ProjectID == "" {
		return errors.New("pubsub project id is required")
	}
	if cfg.Topic == "" && cfg.Subscription == "" {
		return errors.New("pubsub topic or subscription is required")
	}
	return nil
}

// Publish sends body and waits for the server to acknowledge it.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	if c.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	result := c.topic.Publish(ctx, &pubsub.Message{Data: body})
	if _, err := result.Get(ctx); err != nil {
		return classify(fmt.Errorf("publish message: %w", err))
	}
	return nil
}

// Receive blocks until the next message arrives.
func (c *Client) Receive(ctx context.Context) (queue.Delivery, error) {
	if c.subscription == nil {
		return queue.Delivery{}, fmt.Errorf("pubsub subscription is not configured")
	}
	r, err := c.receiver()
	if err != nil {
		return queue.Delivery{}, err
	}
	select {
	case <-ctx.Done():
		return queue.Delivery{}, fmt.Errorf("receive canceled: %w", ctx.Err())
	case <-r.done:
		c.finished(r)
		if r.err == nil {
			return queue.Delivery{}, queue.ConnectionError(errors.New("pubsub receive ended"))
		}
		return queue.Delivery{}, classify(fmt.Errorf("receive: %w", r.err))
	case msg := <-r.messages:
		attempt := 0
		if msg.DeliveryAttempt != nil {
			attempt = *msg.DeliveryAttempt
		}
		return queue.NewDelivery(msg.ID, msg.Data, attempt > 1,
			func() error { msg.Ack(); return nil },
			func(bool) error { msg.Nack(); return nil },
		), nil
	}
}

// receiver returns the running subscription, starting one if none is active.
func (c *Client) receiver() (*receiver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, queue.ErrClosed
	}
	if c.active == nil {
		c.active = c.start()
	}
	return c.active, nil
}

// finished forgets r so the next Receive restarts the subscription.
func (c *Client) finished(r *receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.active = nil
	}
}

// start runs the subscription in the background. The callback hands each
// message over and returns at once; flow control keeps one unacked message.
func (c *Client) start() *receiver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &receiver{
		messages: make(chan *pubsub.Message),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go func() {
		defer close(r.done)
		err := c.subscription.Receive(ctx, func(cbCtx context.Context, msg *pubsub.Message) {
			select {
			case r.messages <- msg:
			case <-cbCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("pubsub receive stopped", zap.Error(err))
			r.err = err
		}
	}()
	return r
}

// Close stops receiving and releases the client.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.active != nil {
		c.active.cancel()
		c.active = nil
	}
	c.mu.Unlock()
	if c.topic != nil {
		c.topic.Stop()
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func classify(err error) error {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted:
			return queue.ConnectionError(err)
		}
	}
	return err
}

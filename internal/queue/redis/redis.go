// Package redis implements the batch queue as a reliable Redis list: a
// received message is atomically moved to a per-consumer processing list and
// only removed from it on ack.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/queue"
)

const defaultBlockTimeout = time.Second

// Config identifies the Redis server and list names.
type Config struct {
	Addr     string
	Password string
	DB       int
	Queue    string
	// ConsumerID scopes the processing list; it must be stable across restarts
	// of the same worker so pending messages are recovered.
	ConsumerID   string
	BlockTimeout time.Duration
}

// Client implements queue.Channel and queue.Source.
type Client struct {
	rdb          *goredis.Client
	queue        string
	processing   string
	blockTimeout time.Duration
	logger       *zap.Logger
	seq          atomic.Uint64
}

var (
	_ queue.Channel = (*Client)(nil)
	_ queue.Source  = (*Client)(nil)
)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultName
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = "default"
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = defaultBlockTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, classify(fmt.Errorf("ping redis: %w", err))
	}
	return &Client{
		rdb:          rdb,
		queue:        cfg.Queue,
		processing:   cfg.Queue + ":processing:" + cfg.ConsumerID,
		blockTimeout: cfg.BlockTimeout,
		logger:       logger,
	}, nil
}

// Publish pushes body onto the head of the queue list.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	if err := c.rdb.LPush(ctx, c.queue, body).Err(); err != nil {
		return classify(fmt.Errorf("lpush %s: %w", c.queue, err))
	}
	return nil
}

// RecoverPending moves messages left in this consumer's processing list by a
// previous run back onto the queue. It returns how many were moved.
func (c *Client) RecoverPending(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := c.rdb.RPopLPush(ctx, c.processing, c.queue).Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return moved, classify(fmt.Errorf("recover pending: %w", err))
		}
		moved++
	}
	if moved > 0 {
		c.logger.Warn("requeued pending messages", zap.Int("count", moved), zap.String("list", c.processing))
	}
	return moved, nil
}

// Receive blocks until a message can be moved to the processing list.
func (c *Client) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Delivery{}, fmt.Errorf("receive canceled: %w", err)
		}
		body, err := c.rdb.BRPopLPush(ctx, c.queue, c.processing, c.blockTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return queue.Delivery{}, fmt.Errorf("receive canceled: %w", ctx.Err())
			}
			return queue.Delivery{}, classify(fmt.Errorf("brpoplpush %s: %w", c.queue, err))
		}
		id := strconv.FormatUint(c.seq.Add(1), 10)
		return queue.NewDelivery(id, []byte(body), false,
			func() error { return c.ack(body) },
			func(requeue bool) error { return c.nack(body, requeue) },
		), nil
	}
}

func (c *Client) ack(body string) error {
	// Settlement must not be lost to a canceled receive context.
	ctx := context.Background()
	if err := c.rdb.LRem(ctx, c.processing, 1, body).Err(); err != nil {
		return classify(fmt.Errorf("ack: %w", err))
	}
	return nil
}

func (c *Client) nack(body string, requeue bool) error {
	ctx := context.Background()
	_, err := c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, c.processing, 1, body)
		if requeue {
			pipe.RPush(ctx, c.queue, body)
		}
		return nil
	})
	if err != nil {
		return classify(fmt.Errorf("nack: %w", err))
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, goredis.ErrClosed) {
		return queue.ConnectionError(err)
	}
	return err
}

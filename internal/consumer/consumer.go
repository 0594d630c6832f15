// Package consumer runs the receive, handle, settle loop over a queue source.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/queue"
)

const defaultReceiveBackoff = time.Second

// Handler processes one message body. A nil return acknowledges the message.
type Handler interface {
	Handle(ctx context.Context, body []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, body []byte) error { return f(ctx, body) }

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("handler panic: %v", e.Value) }

// Config tunes the loop.
type Config struct {
	// ReceiveBackoff is the pause after a failed Receive.
	ReceiveBackoff time.Duration
}

// Consumer settles every delivery it receives: Ack after a successful
// handler run, Nack with requeue after a failure or panic.
type Consumer struct {
	source  queue.Source
	handler Handler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Consumer.
func New(source queue.Source, handler Handler, cfg Config, logger *zap.Logger) *Consumer {
	if cfg.ReceiveBackoff <= 0 {
		cfg.ReceiveBackoff = defaultReceiveBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{source: source, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks until ctx is canceled or the source is closed. A message already
// received when ctx is canceled is still handled and settled before Run
// returns. Cancellation is not an error.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		d, err := c.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, queue.ErrClosed) {
				c.logger.Info("queue closed, consumer stopping")
				return nil
			}
			c.logger.Error("queue receive failed", zap.Error(err), zap.Duration("backoff", c.cfg.ReceiveBackoff))
			if !sleep(ctx, c.cfg.ReceiveBackoff) {
				return nil
			}
			continue
		}
		c.process(ctx, d)
	}
}

func (c *Consumer) process(ctx context.Context, d queue.Delivery) {
	// The in-flight message is finished even when shutdown starts mid batch.
	handleCtx := context.WithoutCancel(ctx)
	logger := c.logger.With(zap.String("delivery_id", d.ID), zap.Bool("redelivered", d.Redelivered))

	start := time.Now()
	if err := c.safeHandle(handleCtx, d.Body); err != nil {
		logger.Error("batch failed, requeueing", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		if nerr := d.Nack(true); nerr != nil {
			logger.Error("nack failed", zap.Error(nerr))
		}
		return
	}
	if err := d.Ack(); err != nil {
		logger.Error("ack failed", zap.Error(err))
		return
	}
	logger.Debug("batch acknowledged", zap.Duration("elapsed", time.Since(start)))
}

func (c *Consumer) safeHandle(ctx context.Context, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return c.handler.Handle(ctx, body)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

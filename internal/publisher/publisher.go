// Package publisher delivers batches to the queue with bounded retry.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/pipeline"
	"github.com/JakeFAU/ccextract/internal/queue"
)

// Publisher implements pipeline.BatchPublisher on top of a queue.Channel.
type Publisher struct {
	channel  queue.Channel
	policy   RetryPolicy
	observer pipeline.BatchObserver
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ pipeline.BatchPublisher = (*Publisher)(nil)

// Option customizes a Publisher.
type Option func(*Publisher)

// WithObserver reports attempts and retries to o.
func WithObserver(o pipeline.BatchObserver) Option {
	return func(p *Publisher) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New constructs a Publisher. Zero fields of policy take their defaults.
func New(channel queue.Channel, policy RetryPolicy, opts ...Option) *Publisher {
	p := &Publisher{
		channel:  channel,
		policy:   policy.withDefaults(),
		observer: pipeline.NopBatchObserver{},
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish encodes batch as a JSON array and sends it as one message.
func (p *Publisher) Publish(ctx context.Context, batch pipeline.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return &pipeline.DeliveryError{Attempts: 0, Err: fmt.Errorf("encode batch: %w", err)}
	}

	for attempt := 1; ; attempt++ {
		err = p.channel.Publish(ctx, body)
		p.observer.PublishAttempt(attempt, err)
		if err == nil {
			p.observer.BatchPublished(len(batch))
			p.logger.Debug("batch published", zap.Int("records", len(batch)), zap.Int("attempt", attempt))
			return nil
		}
		if !p.policy.ShouldRetry(err, attempt) {
			p.logger.Error("batch delivery failed", zap.Int("attempts", attempt), zap.Error(err))
			return &pipeline.DeliveryError{Attempts: attempt, Err: err}
		}

		wait := p.policy.Backoff(attempt - 1)
		p.observer.PublishRetry(attempt, wait)
		p.logger.Warn("queue connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := p.sleep(ctx, wait); serr != nil {
			return &pipeline.DeliveryError{Attempts: attempt, Err: serr}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

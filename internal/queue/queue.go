// Package queue defines the message queue boundary between the batcher and
// the workers. Publishers only need Channel; consumers only need Source.
// Implementations live in the subpackages (amqp, pubsub, redis, memory).
package queue

import (
	"context"
	"errors"
)

// DefaultName is the queue that carries batches.
const DefaultName = "batches"

var (
	// ErrConnection marks transport-level connection failures. Publishers
	// retry only errors wrapping it.
	ErrConnection = errors.New("queue connection failure")
	// ErrClosed is returned once a queue client has been closed.
	ErrClosed = errors.New("queue closed")
)

// Channel publishes opaque message bodies to the batch queue.
type Channel interface {
	Publish(ctx context.Context, body []byte) error
}

// Source receives one message at a time. Receive blocks until a message is
// available, the context ends or the source is closed.
type Source interface {
	Receive(ctx context.Context) (Delivery, error)
}

// Delivery is one received message awaiting acknowledgment.
type Delivery struct {
	ID          string
	Body        []byte
	Redelivered bool

	ack  func() error
	nack func(requeue bool) error
}

// NewDelivery builds a Delivery around transport specific ack and nack calls.
func NewDelivery(id string, body []byte, redelivered bool, ack func() error, nack func(requeue bool) error) Delivery {
	return Delivery{ID: id, Body: body, Redelivered: redelivered, ack: ack, nack: nack}
}

// Ack confirms the message was fully processed.
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Nack rejects the message; requeue asks the broker to deliver it again.
func (d Delivery) Nack(requeue bool) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(requeue)
}

// ConnectionError wraps err so that errors.Is(err, ErrConnection) holds.
func ConnectionError(err error) error {
	if err == nil {
		return nil
	}
	return &connErr{err: err}
}

type connErr struct {
	err error
}

func (e *connErr) Error() string { return "queue connection: " + e.err.Error() }

func (e *connErr) Unwrap() []error { return []error{ErrConnection, e.err} }

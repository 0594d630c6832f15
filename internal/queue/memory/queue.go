// Package memory provides an in-process batch queue for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/JakeFAU/ccextract/internal/queue"
)

type message struct {
	id          string
	body        []byte
	redelivered bool
}

// Queue is an in-memory queue with manual acknowledgment. It implements both
// queue.Channel and queue.Source. Fresh messages are bounded by capacity;
// requeued messages go to an unbounded list that Receive drains first, so a
// Nack with requeue never fails or blocks.
type Queue struct {
	ch        chan message
	done      chan struct{}
	closeOnce sync.Once
	requeued  chan struct{}

	mu       sync.Mutex
	seq      int
	pending  []message
	inflight map[string]message
	acked    []string
}

var (
	_ queue.Channel = (*Queue)(nil)
	_ queue.Source  = (*Queue)(nil)
)

// NewQueue constructs a queue holding up to capacity unreceived messages.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:       make(chan message, capacity),
		done:     make(chan struct{}),
		requeued: make(chan struct{}, 1),
		inflight: make(map[string]message),
	}
}

// Publish enqueues a copy of body, blocking while the queue is full.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	q.mu.Lock()
	q.seq++
	msg := message{id: strconv.Itoa(q.seq), body: append([]byte(nil), body...)}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- msg:
		return nil
	}
}

// Receive returns the next message, requeued ones first. After Close it keeps
// returning queued messages and reports queue.ErrClosed once none are left.
func (q *Queue) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		if msg, ok := q.popPending(); ok {
			return q.deliver(msg), nil
		}
		select {
		case <-ctx.Done():
			return queue.Delivery{}, fmt.Errorf("receive canceled: %w", ctx.Err())
		case msg := <-q.ch:
			return q.deliver(msg), nil
		case <-q.requeued:
		case <-q.done:
			if msg, ok := q.popPending(); ok {
				return q.deliver(msg), nil
			}
			select {
			case msg := <-q.ch:
				return q.deliver(msg), nil
			default:
				return queue.Delivery{}, queue.ErrClosed
			}
		}
	}
}

func (q *Queue) popPending() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return message{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		q.signalRequeue()
	}
	return msg, true
}

// signalRequeue wakes one blocked Receive; mu must be held.
func (q *Queue) signalRequeue() {
	select {
	case q.requeued <- struct{}{}:
	default:
	}
}

func (q *Queue) deliver(msg message) queue.Delivery {
	q.mu.Lock()
	q.inflight[msg.id] = msg
	q.mu.Unlock()
	return queue.NewDelivery(msg.id, msg.body, msg.redelivered,
		func() error { return q.ack(msg.id) },
		func(requeue bool) error { return q.nack(msg.id, requeue) },
	)
}

func (q *Queue) ack(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[id]; !ok {
		return fmt.Errorf("unknown delivery %s", id)
	}
	delete(q.inflight, id)
	q.acked = append(q.acked, id)
	return nil
}

func (q *Queue) nack(id string, requeue bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[id]
	if !ok {
		return fmt.Errorf("unknown delivery %s", id)
	}
	delete(q.inflight, id)
	if !requeue {
		return nil
	}
	msg.redelivered = true
	q.pending = append(q.pending, msg)
	q.signalRequeue()
	return nil
}

// Acked returns the IDs of acknowledged messages in ack order.
func (q *Queue) Acked() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

// InFlight reports how many messages are received but not yet settled.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Len reports how many messages are waiting to be received.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.pending)
}

// Close stops publishing; queued and requeued messages can still be received.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

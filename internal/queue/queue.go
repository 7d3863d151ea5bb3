// Package queue provides an unbounded FIFO with a blocking, cancellable
// Pop, backed by an infinity channel.
package queue

import (
	"context"
	"errors"
	"sync"

	infinity "github.com/Code-Hex/go-infinity-channel"
)

// ErrClosed is returned by Push after Close, and by Pop once a closed queue
// is drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO safe for concurrent use. Push never blocks on
// a slow consumer.
type Queue[T any] struct {
	ch *infinity.Channel[T]

	mu     sync.Mutex
	closed bool
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ch: infinity.NewChannel[T]()}
}

// Push appends v.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.ch.In() <- v
	return nil
}

// Pop removes and returns the oldest item, blocking until one is available,
// ctx is done, or the queue is closed and empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-q.ch.Out():
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	}
}

// Close rejects further pushes. Queued items can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.ch.Close()
	}
}

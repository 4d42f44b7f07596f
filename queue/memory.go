package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Memory is a bounded in-process FIFO queue. Items do not survive a restart.
type Memory struct {
	items chan WorkItem
	poll  time.Duration
	clock clock.Clock

	closed    chan struct{}
	closeOnce sync.Once

	acked  atomic.Int64
	failed atomic.Int64
}

// NewMemory creates a queue holding at most capacity items.
func NewMemory(capacity int, poll time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 1
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Memory{
		items:  make(chan WorkItem, capacity),
		poll:   poll,
		clock:  clock.New(),
		closed: make(chan struct{}),
	}
}

// WithClock replaces the clock driving the poll timer.
func (m *Memory) WithClock(c clock.Clock) *Memory {
	m.clock = c
	return m
}

// Enqueue blocks while the queue is full.
func (m *Memory) Enqueue(ctx context.Context, item WorkItem) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}

	select {
	case m.items <- item:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the oldest item. Items already queued are still handed out
// after Close.
func (m *Memory) Dequeue(ctx context.Context) (WorkItem, error) {
	select {
	case item := <-m.items:
		return item, nil
	default:
	}

	timer := m.clock.Timer(m.poll)
	defer timer.Stop()

	select {
	case item := <-m.items:
		return item, nil
	case <-m.closed:
		return WorkItem{}, ErrClosed
	case <-timer.C:
		return WorkItem{}, ErrEmpty
	case <-ctx.Done():
		return WorkItem{}, ctx.Err()
	}
}

// Ack counts the outcome. Memory keeps no history.
func (m *Memory) Ack(_ context.Context, _ WorkItem, err error) error {
	if err != nil {
		m.failed.Add(1)
	} else {
		m.acked.Add(1)
	}
	return nil
}

// Len returns the number of waiting items.
func (m *Memory) Len() int {
	return len(m.items)
}

// Stats returns the number of successful and failed acknowledgements.
func (m *Memory) Stats() (done, failed int64) {
	return m.acked.Load(), m.failed.Load()
}

// Close stops the queue. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

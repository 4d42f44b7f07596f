// Package queue - Video work items and the queue the worker pool consumes.
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrEmpty is returned by Dequeue when no item arrived within the poll interval.
	ErrEmpty = errors.New("queue empty")
	// ErrClosed is returned once the queue has been closed.
	ErrClosed = errors.New("queue closed")
)

// DefaultPollInterval is how long Dequeue waits before reporting ErrEmpty.
const DefaultPollInterval = 5 * time.Second

// WorkItem asks for one video to be processed.
type WorkItem struct {
	ID            string    `json:"task_id"`
	TransactionID string    `json:"transaction_uuid"`
	VideoSource   string    `json:"video_url"`
	SubmittedAt   time.Time `json:"origin_time"`
}

// Validate checks that the item can be processed.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.VideoSource) == "" {
		return errors.New("video_url is required")
	}
	return nil
}

// WithDefaults fills a missing task id and submission time.
func (w WorkItem) WithDefaults(now time.Time) WorkItem {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.SubmittedAt.IsZero() {
		w.SubmittedAt = now.UTC()
	}
	return w
}

// Queue hands work items to workers.
type Queue interface {
	// Enqueue adds an item at the tail.
	Enqueue(ctx context.Context, item WorkItem) error
	// Dequeue takes the head item, waiting up to the poll interval.
	Dequeue(ctx context.Context) (WorkItem, error)
	// Ack records the outcome of a dequeued item. err is nil on success.
	Ack(ctx context.Context, item WorkItem, err error) error
	// Close stops the queue. Pending Dequeue calls return ErrClosed.
	Close() error
}

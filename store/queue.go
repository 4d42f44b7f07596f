package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/nvr-ai/traywatch/queue"
)

// Work item states.
const (
	StatusPending = "pending"
	StatusClaimed = "claimed"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// retryEvery is how often Dequeue re-checks for new rows while waiting.
const retryEvery = 250 * time.Millisecond

// Queue is a durable FIFO in the work_items table. Claimed items that were never
// acknowledged can be returned to the queue with Recover.
type Queue struct {
	db    *DB
	poll  time.Duration
	clock clock.Clock

	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue returns a queue on db. The schema must be migrated.
func NewQueue(db *DB, poll time.Duration) *Queue {
	if poll <= 0 {
		poll = queue.DefaultPollInterval
	}
	return &Queue{db: db, poll: poll, clock: clock.New(), closed: make(chan struct{})}
}

// WithClock replaces the clock used for waiting and timestamps.
func (q *Queue) WithClock(c clock.Clock) *Queue {
	q.clock = c
	return q
}

// Enqueue stores item as pending.
func (q *Queue) Enqueue(ctx context.Context, item queue.WorkItem) error {
	select {
	case <-q.closed:
		return queue.ErrClosed
	default:
	}

	now := formatTime(q.clock.Now())
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO work_items (id, transaction_id, video_source, submitted_at, status, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TransactionID, item.VideoSource, formatTime(item.SubmittedAt), StatusPending, now, now,
	)
	return errors.Wrapf(err, "enqueue %s", item.ID)
}

// Dequeue claims the oldest pending item, waiting up to the poll interval.
func (q *Queue) Dequeue(ctx context.Context) (queue.WorkItem, error) {
	deadline := q.clock.Now().Add(q.poll)
	for {
		select {
		case <-q.closed:
			return queue.WorkItem{}, queue.ErrClosed
		default:
		}

		item, ok, err := q.claim(ctx)
		if err != nil || ok {
			return item, err
		}

		wait := deadline.Sub(q.clock.Now())
		if wait <= 0 {
			return queue.WorkItem{}, queue.ErrEmpty
		}
		if wait > retryEvery {
			wait = retryEvery
		}
		timer := q.clock.Timer(wait)
		select {
		case <-timer.C:
		case <-q.closed:
			timer.Stop()
			return queue.WorkItem{}, queue.ErrClosed
		case <-ctx.Done():
			timer.Stop()
			return queue.WorkItem{}, ctx.Err()
		}
	}
}

func (q *Queue) claim(ctx context.Context) (queue.WorkItem, bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.WorkItem{}, false, errors.Wrap(err, "begin claim")
	}
	defer tx.Rollback()

	var (
		item      queue.WorkItem
		submitted string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, transaction_id, video_source, submitted_at
		FROM work_items
		WHERE status = ?
		ORDER BY seq
		LIMIT 1`, StatusPending).Scan(&item.ID, &item.TransactionID, &item.VideoSource, &submitted)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.WorkItem{}, false, nil
	}
	if err != nil {
		return queue.WorkItem{}, false, errors.Wrap(err, "select pending item")
	}
	if item.SubmittedAt, err = parseTime(submitted); err != nil {
		return queue.WorkItem{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE work_items SET status = ?, updated_at = ? WHERE id = ?`,
		StatusClaimed, formatTime(q.clock.Now()), item.ID); err != nil {
		return queue.WorkItem{}, false, errors.Wrap(err, "claim item")
	}
	if err := tx.Commit(); err != nil {
		return queue.WorkItem{}, false, errors.Wrap(err, "commit claim")
	}
	return item, true, nil
}

// Ack marks item done, or failed with the error text.
func (q *Queue) Ack(ctx context.Context, item queue.WorkItem, procErr error) error {
	status, msg := StatusDone, ""
	if procErr != nil {
		status, msg = StatusFailed, procErr.Error()
	}
	res, err := q.db.ExecContext(ctx, `UPDATE work_items SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, msg, formatTime(q.clock.Now()), item.ID)
	if err != nil {
		return errors.Wrapf(err, "ack %s", item.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("ack %s: unknown item", item.ID)
	}
	return nil
}

// Status returns the state of an item and its recorded error.
func (q *Queue) Status(ctx context.Context, id string) (status, errText string, err error) {
	err = q.db.QueryRowContext(ctx, `SELECT status, error FROM work_items WHERE id = ?`, id).Scan(&status, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", errors.Errorf("unknown item %s", id)
	}
	return status, errText, errors.Wrap(err, "query item status")
}

// Pending returns the number of items waiting to be claimed.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE status = ?`, StatusPending).Scan(&n)
	return n, errors.Wrap(err, "count pending items")
}

// Recover returns items left claimed by a previous run to the pending state.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE work_items SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, formatTime(q.clock.Now()), StatusClaimed)
	if err != nil {
		return 0, errors.Wrap(err, "recover claimed items")
	}
	return res.RowsAffected()
}

// Close stops the queue. The database stays open.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

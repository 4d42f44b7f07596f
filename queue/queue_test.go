package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkItemJSON(t *testing.T) {
	raw := `{"transaction_uuid":"t-1","video_url":"http://cam/clip.mp4","origin_time":"2024-02-03T04:05:06Z"}`
	var item WorkItem
	require.NoError(t, json.Unmarshal([]byte(raw), &item))
	assert.Equal(t, "t-1", item.TransactionID)
	assert.Equal(t, "http://cam/clip.mp4", item.VideoSource)
	assert.Equal(t, 2024, item.SubmittedAt.Year())
	assert.NoError(t, item.Validate())

	assert.Error(t, WorkItem{VideoSource: "  "}.Validate())
}

func TestWorkItemWithDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	item := WorkItem{VideoSource: "a.mp4"}.WithDefaults(now)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, now, item.SubmittedAt)

	kept := WorkItem{ID: "x", VideoSource: "a.mp4", SubmittedAt: now.Add(-time.Hour)}.WithDefaults(now)
	assert.Equal(t, "x", kept.ID)
	assert.Equal(t, now.Add(-time.Hour), kept.SubmittedAt)
}

func TestMemoryFIFO(t *testing.T) {
	q := NewMemory(4, time.Second)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, WorkItem{ID: id, VideoSource: id + ".mp4"}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)
	}
}

func TestMemoryDequeueTimesOut(t *testing.T) {
	mock := clock.NewMock()
	q := NewMemory(1, 5*time.Second).WithClock(mock)

	errc := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errc <- err
	}()

	// Advance until the poll timer fires.
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err := <-errc:
			assert.ErrorIs(t, err, ErrEmpty)
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryClose(t *testing.T) {
	q := NewMemory(2, time.Hour)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, WorkItem{ID: "left", VideoSource: "x"}))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, WorkItem{ID: "late"}), ErrClosed)

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "left", item.ID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryEnqueueRespectsContext(t *testing.T) {
	q := NewMemory(1, time.Second)
	require.NoError(t, q.Enqueue(context.Background(), WorkItem{ID: "full"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Enqueue(ctx, WorkItem{ID: "blocked"}), context.DeadlineExceeded)
}

func TestMemoryAckStats(t *testing.T) {
	q := NewMemory(1, time.Second)
	ctx := context.Background()
	require.NoError(t, q.Ack(ctx, WorkItem{ID: "a"}, nil))
	require.NoError(t, q.Ack(ctx, WorkItem{ID: "b"}, assert.AnError))
	require.NoError(t, q.Ack(ctx, WorkItem{ID: "c"}, nil))

	done, failed := q.Stats()
	assert.Equal(t, int64(2), done)
	assert.Equal(t, int64(1), failed)
}

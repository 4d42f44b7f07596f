package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/images"
	"github.com/nvr-ai/traywatch/metrics"
	"github.com/nvr-ai/traywatch/queue"
	"github.com/nvr-ai/traywatch/snapshot"
	"github.com/nvr-ai/traywatch/test"
	"github.com/nvr-ai/traywatch/video"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []controller.AlarmRequest
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req controller.AlarmRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if req.Snapshot.Ptr() != nil {
		req.Snapshot = req.Snapshot.Clone()
	}
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDispatcher) all() []controller.AlarmRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]controller.AlarmRequest(nil), d.requests...)
}

var tray = images.Rect{X1: 100, Y1: 100, X2: 300, Y2: 250}

func trayScenes(n, items int) []test.Scene {
	points := make([]images.Point, items)
	for i := range points {
		points[i] = images.Pt(130+i*40, 170)
	}
	scenes := make([]test.Scene, n)
	for i := range scenes {
		scenes[i] = test.Scene{Containers: []images.Rect{tray}, Items: points}
	}
	return scenes
}

type fixture struct {
	worker     *Worker
	dispatcher *recordingDispatcher
	source     *test.MockSource
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T, det controller.Detector, frames int) *fixture {
	t.Helper()
	f := &fixture{
		dispatcher: &recordingDispatcher{},
		source:     test.NewMockSource("lane3", frames),
		metrics:    metrics.New(),
	}
	f.worker = New(det, f.dispatcher, controller.DefaultConfig(), zaptest.NewLogger(t),
		WithRenderer(snapshot.NewRenderer()),
		WithMetrics(f.metrics),
		WithOpener(func(uri string) (video.Source, error) { return f.source, nil }),
	)
	t.Cleanup(func() {
		for _, req := range f.dispatcher.all() {
			if req.Snapshot.Ptr() != nil {
				req.Snapshot.Close()
			}
		}
	})
	return f
}

func item() queue.WorkItem {
	return queue.WorkItem{ID: "task-1", TransactionID: "txn-9", VideoSource: "/videos/lane3.mp4"}
}

func TestProcessItemFinalizesAtEndOfStream(t *testing.T) {
	det := test.NewScriptedDetector(trayScenes(3, 2)...)
	f := newFixture(t, det, 3)

	require.NoError(t, f.worker.ProcessItem(context.Background(), item()))

	reqs := f.dispatcher.all()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Closing)
	assert.Equal(t, "txn-9", reqs[0].TransactionID)
	assert.Equal(t, "lane3", reqs[0].VideoID)
	assert.Equal(t, 2, reqs[0].MaxCount)
	assert.False(t, reqs[0].Snapshot.Empty())

	assert.Equal(t, 3, det.Calls())
	assert.True(t, f.source.Closed())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.FramesProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TracksCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Sessions.WithLabelValues(metrics.ResultFinalized)))
	assert.Zero(t, f.metrics.ActiveSessions.Load())
}

func TestProcessItemWithoutRenderer(t *testing.T) {
	det := test.NewScriptedDetector(trayScenes(3, 4)...)
	f := newFixture(t, det, 3)
	f.worker.renderer = nil

	require.NoError(t, f.worker.ProcessItem(context.Background(), item()))

	reqs := f.dispatcher.all()
	require.Len(t, reqs, 1, "confirmed counts alarm without a renderer")
	assert.True(t, reqs[0].Closing)
	assert.Equal(t, 4, reqs[0].MaxCount)
	assert.Nil(t, reqs[0].Snapshot.Ptr(), "no snapshot image is produced")
}

func TestProcessItemRaisesLossAlarm(t *testing.T) {
	// Two confirming frames, then the tray disappears for the rest of the video.
	det := test.NewScriptedDetector(trayScenes(2, 3)...)
	f := newFixture(t, det, 15)

	require.NoError(t, f.worker.ProcessItem(context.Background(), item()))

	reqs := f.dispatcher.all()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].Closing)
	assert.Equal(t, 3, reqs[0].MaxCount)
}

func TestProcessItemDetectionFailureSkipsFinalize(t *testing.T) {
	det := test.NewScriptedDetector(trayScenes(5, 2)...)
	det.FailAt = 3
	f := newFixture(t, det, 5)

	err := f.worker.ProcessItem(context.Background(), item())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detect frame 3")
	assert.Empty(t, f.dispatcher.all(), "an aborted session raises no closing alarms")
	assert.True(t, f.source.Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Sessions.WithLabelValues(metrics.ResultFailed)))
}

func TestProcessItemUnreadableSource(t *testing.T) {
	f := newFixture(t, test.NewScriptedDetector(), 0)
	f.worker.open = func(uri string) (video.Source, error) {
		return nil, errors.Wrap(video.ErrSourceUnavailable, uri)
	}

	err := f.worker.ProcessItem(context.Background(), item())
	assert.ErrorIs(t, err, video.ErrSourceUnavailable)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Sessions.WithLabelValues(metrics.ResultRejected)))
}

func TestProcessItemRejectsInvalidItem(t *testing.T) {
	f := newFixture(t, test.NewScriptedDetector(), 1)
	err := f.worker.ProcessItem(context.Background(), queue.WorkItem{ID: "x"})
	assert.Error(t, err)
	assert.False(t, f.source.Closed(), "nothing is opened for an invalid item")
}

func TestProcessItemCancelled(t *testing.T) {
	det := test.NewScriptedDetector(trayScenes(3, 2)...)
	f := newFixture(t, det, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.worker.ProcessItem(ctx, item())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.dispatcher.all())
}

type fakeProcessor struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (p *fakeProcessor) ProcessItem(_ context.Context, item queue.WorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, item.ID)
	if p.fail[item.ID] {
		return errors.New("boom")
	}
	return nil
}

func TestPoolDrainsQueue(t *testing.T) {
	q := queue.NewMemory(8, 10*time.Millisecond)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, queue.WorkItem{ID: id, VideoSource: id + ".mp4"}))
	}

	proc := &fakeProcessor{fail: map[string]bool{"b": true}}
	pool := NewPool(q, proc, 2, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- pool.Run(runCtx) }()

	require.Eventually(t, func() bool {
		ok, failed := q.Stats()
		return ok+failed == 3
	}, 2*time.Second, 5*time.Millisecond)

	ok, failed := q.Stats()
	assert.Equal(t, int64(2), ok)
	assert.Equal(t, int64(1), failed)
	proc.mu.Lock()
	assert.ElementsMatch(t, []string{"a", "b", "c"}, proc.seen)
	proc.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

func TestPoolStopsWhenQueueCloses(t *testing.T) {
	q := queue.NewMemory(1, 10*time.Millisecond)
	pool := NewPool(q, &fakeProcessor{}, 3, nil)

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()
	require.NoError(t, q.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after close")
	}
}

package tracking

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/traywatch/images"
)

// captureRecorder counts snapshot captures and the counts they were taken at.
type captureRecorder struct {
	counts []int
	err    error
}

func (c *captureRecorder) capture(_ *Track, count int) error {
	if c.err != nil {
		return c.err
	}
	c.counts = append(c.counts, count)
	return nil
}

// TestObserveStabilityConfirmation follows counts [1,2,2,2] with two
// confirmation frames.
func TestObserveStabilityConfirmation(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	rec := &captureRecorder{}

	steps := []struct {
		count       int
		wantStreak  int
		wantMax     int
		wantCapture bool
	}{
		{count: 1, wantStreak: 1, wantMax: 0, wantCapture: false},
		{count: 2, wantStreak: 1, wantMax: 0, wantCapture: false},
		{count: 2, wantStreak: 2, wantMax: 2, wantCapture: true},
		{count: 2, wantStreak: 3, wantMax: 2, wantCapture: false},
	}

	for i, step := range steps {
		captured, err := tr.Observe(step.count, 2, rec.capture)
		require.NoError(t, err)
		assert.Equal(t, step.wantCapture, captured, "frame %d", i+1)
		assert.Equal(t, step.wantStreak, tr.ConfirmStreak, "frame %d streak", i+1)
		assert.Equal(t, step.wantMax, tr.MaxObservedCount, "frame %d max", i+1)
		assert.Equal(t, step.count, tr.LastObservedCount, "frame %d last", i+1)
	}

	assert.Equal(t, []int{2}, rec.counts)
	assert.True(t, tr.HasSnapshot)
	assert.Equal(t, Category2, tr.Category())
}

func TestObserveMaxIsNonDecreasing(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	rec := &captureRecorder{}

	counts := []int{3, 3, 1, 1, 1, 4, 4, 2, 2, 5, 0, 0, 5, 5}
	prevMax := 0
	for _, c := range counts {
		_, err := tr.Observe(c, 2, rec.capture)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, tr.MaxObservedCount, prevMax)
		prevMax = tr.MaxObservedCount
	}

	assert.Equal(t, []int{3, 4, 5}, rec.counts)
	assert.Equal(t, 5, tr.MaxObservedCount)
}

func TestObserveZeroCountNeverCaptures(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	for i := 0; i < 5; i++ {
		captured, err := tr.Observe(0, 2, nil)
		require.NoError(t, err)
		assert.False(t, captured)
	}
	assert.False(t, tr.HasSnapshot)
}

func TestObserveSingleFrameConfirmation(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	captured, err := tr.Observe(1, 1, nil)
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, 1, tr.MaxObservedCount)
	assert.True(t, tr.HasSnapshot)
}

func TestObserveCaptureErrorDoesNotPromote(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	rec := &captureRecorder{err: errors.New("render failed")}

	_, err := tr.Observe(3, 1, rec.capture)
	require.Error(t, err)
	assert.Equal(t, 0, tr.MaxObservedCount)
	assert.False(t, tr.HasSnapshot)

	rec.err = nil
	captured, err := tr.Observe(3, 1, rec.capture)
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Equal(t, 3, tr.MaxObservedCount)
}

func TestObserveAfterAlarmNeverCaptures(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 100, 100})
	rec := &captureRecorder{}

	_, err := tr.Observe(2, 1, rec.capture)
	require.NoError(t, err)
	require.True(t, tr.Alarm())

	captured, err := tr.Observe(4, 1, rec.capture)
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Equal(t, 2, tr.MaxObservedCount)
	assert.Equal(t, []int{2}, rec.counts)
}

func TestAlarmIsOneWay(t *testing.T) {
	tr := newTrack(1, images.Rect{})
	assert.True(t, tr.Alarm())
	assert.False(t, tr.Alarm())
	assert.True(t, tr.Alarmed)
}

func TestAlarmDue(t *testing.T) {
	tr := newTrack(1, images.Rect{})
	tr.MaxObservedCount, tr.HasSnapshot = 2, true

	for i := 1; i <= 3; i++ {
		tr.MarkMissed()
		assert.False(t, tr.AlarmDue(3), "missed=%d", i)
	}
	tr.MarkMissed()
	assert.True(t, tr.AlarmDue(3))

	tr.Alarm()
	assert.False(t, tr.AlarmDue(3))

	noSnapshot := newTrack(2, images.Rect{})
	for i := 0; i < 10; i++ {
		noSnapshot.MarkMissed()
	}
	assert.False(t, noSnapshot.AlarmDue(3))
}

func TestMarkMatchedResetsLoss(t *testing.T) {
	tr := newTrack(1, images.Rect{0, 0, 10, 10})
	tr.MarkMissed()
	tr.MarkMissed()
	tr.MarkMatched(images.Rect{1, 1, 11, 11})
	assert.Equal(t, 0, tr.MissedFrames)
	assert.Equal(t, images.Rect{1, 1, 11, 11}, tr.Box)
}

func TestCountInside(t *testing.T) {
	box := images.Rect{100, 100, 200, 200}
	points := []images.Point{
		{150, 150},
		{100, 100},
		{200, 200},
		{99, 150},
		{150, 201},
	}
	assert.Equal(t, 3, CountInside(box, points))
	assert.Equal(t, 0, CountInside(box, nil))
}

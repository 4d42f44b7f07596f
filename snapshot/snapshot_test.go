package snapshot

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/images"
)

// stripedFrame returns a colour frame with sharp vertical stripes so blurring is visible.
func stripedFrame(width, height int) gocv.Mat {
	frame := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(30, 30, 30, 0))
	for x := 0; x < width; x += 20 {
		gocv.Rectangle(&frame, image.Rect(x, 0, x+10, height), color.RGBA{220, 200, 180, 0}, -1)
	}
	return frame
}

func TestCaptureKeepsBoxAndBlursOutside(t *testing.T) {
	frame := stripedFrame(640, 480)
	defer frame.Close()
	before := images.ComputeMatChecksum(frame)

	box := images.Rect{X1: 200, Y1: 150, X2: 400, Y2: 350}
	r := NewRenderer()
	snap, err := r.Capture(frame, box, "ID 1 | 2 items | category_2")
	require.NoError(t, err)
	defer snap.Close()

	assert.Equal(t, frame.Rows(), snap.Rows())
	assert.Equal(t, frame.Cols(), snap.Cols())
	assert.Equal(t, before, images.ComputeMatChecksum(frame), "source frame must not change")

	interior := images.Rect{X1: box.X1 + 5, Y1: box.Y1 + 5, X2: box.X2 - 5, Y2: box.Y2 - 5}
	assert.Equal(t, images.RegionChecksum(frame, interior), images.RegionChecksum(snap, interior))

	outside := images.Rect{X1: 450, Y1: 380, X2: 600, Y2: 470}
	assert.NotEqual(t, images.RegionChecksum(frame, outside), images.RegionChecksum(snap, outside))
}

func TestCaptureRejectsBadInput(t *testing.T) {
	r := NewRenderer()

	empty := gocv.NewMat()
	defer empty.Close()
	_, err := r.Capture(empty, images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, "x")
	assert.Error(t, err)

	frame := stripedFrame(64, 48)
	defer frame.Close()
	_, err = r.Capture(frame, images.Rect{X1: 100, Y1: 100, X2: 200, Y2: 200}, "x")
	assert.Error(t, err)
}

func TestCaptureClipsPartialBox(t *testing.T) {
	frame := stripedFrame(320, 240)
	defer frame.Close()

	r := &Renderer{KernelSize: 54, Thickness: 1, FontScale: 0.5}
	snap, err := r.Capture(frame, images.Rect{X1: -20, Y1: -20, X2: 100, Y2: 100}, "ID 3 | 0 items | category_1")
	require.NoError(t, err)
	defer snap.Close()
	assert.False(t, snap.Empty())
}

func TestDrawTracks(t *testing.T) {
	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.SetTo(gocv.NewScalar(0, 0, 0, 0))
	before := images.ComputeMatChecksum(frame)

	DrawTracks(&frame, []Overlay{{Box: images.Rect{X1: 10, Y1: 40, X2: 100, Y2: 120}, Label: "ID 1"}},
		[]images.Point{images.Pt(50, 80)})
	assert.NotEqual(t, before, images.ComputeMatChecksum(frame))
}

func TestLabelOrigin(t *testing.T) {
	assert.Equal(t, image.Pt(10, 90), labelOrigin(images.Rect{X1: 10, Y1: 100, X2: 50, Y2: 150}))
	assert.Equal(t, image.Pt(10, 30), labelOrigin(images.Rect{X1: 10, Y1: 5, X2: 50, Y2: 150}))
}

// Package test - Shared fixtures: synthetic frames, scripted detections and in-memory sources.
package test

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/images"
)

// MockFrameGenerator creates deterministic BGR frames with trays and plates drawn on them.
//
// Arguments:
// - None.
//
// Returns:
// - A generator for creating test frames with controlled tray layouts.
//
// @example
// gen := NewMockFrameGenerator(640, 480)
// frame := gen.GenerateStaticFrame()
// defer frame.Close()
type MockFrameGenerator struct {
	width  int
	height int
}

// NewMockFrameGenerator creates a new frame generator with specified dimensions.
//
// Arguments:
// - width: Frame width in pixels.
// - height: Frame height in pixels.
//
// Returns:
// - A configured MockFrameGenerator instance.
//
// @example
// gen := NewMockFrameGenerator(1920, 1080)
func NewMockFrameGenerator(width, height int) *MockFrameGenerator {
	return &MockFrameGenerator{width: width, height: height}
}

// GenerateStaticFrame creates an empty counter-top frame.
//
// Returns:
// - A 3 channel Mat filled with mid-gray.
func (g *MockFrameGenerator) GenerateStaticFrame() gocv.Mat {
	frame := gocv.NewMatWithSize(g.height, g.width, gocv.MatTypeCV8UC3)
	frame.SetTo(gocv.NewScalar(128, 128, 128, 0))
	return frame
}

// GenerateTrayFrame draws filled trays and a white disc for every plate.
//
// Arguments:
// - trays: Tray boxes in frame coordinates.
// - items: Plate centers in frame coordinates.
//
// Returns:
// - A 3 channel Mat the caller must close.
//
// @example
// frame := gen.GenerateTrayFrame([]images.Rect{{X1: 100, Y1: 100, X2: 300, Y2: 250}}, []images.Point{{X: 150, Y: 160}})
// defer frame.Close()
func (g *MockFrameGenerator) GenerateTrayFrame(trays []images.Rect, items []images.Point) gocv.Mat {
	frame := g.GenerateStaticFrame()
	for _, tray := range trays {
		gocv.Rectangle(&frame, tray.Rectangle(), color.RGBA{90, 60, 30, 0}, -1)
	}
	for _, p := range items {
		gocv.Circle(&frame, image.Pt(p.X, p.Y), 8, color.RGBA{255, 255, 255, 0}, -1)
	}
	return frame
}

// Scene is the detector output for one frame.
type Scene struct {
	Containers []images.Rect
	Items      []images.Point
}

// ScriptedDetector replays a fixed list of scenes, one per Detect call.
// Calls past the end of the script return an empty scene.
type ScriptedDetector struct {
	Script []Scene
	// FailAt makes the call with this zero-based index return Err. Negative disables it.
	FailAt int
	Err    error

	mu    sync.Mutex
	calls int
}

// NewScriptedDetector returns a detector that never fails.
func NewScriptedDetector(script ...Scene) *ScriptedDetector {
	return &ScriptedDetector{Script: script, FailAt: -1}
}

// Detect implements controller.Detector.
func (d *ScriptedDetector) Detect(ctx context.Context, img gocv.Mat) (controller.Frame, error) {
	if err := ctx.Err(); err != nil {
		return controller.Frame{}, err
	}

	d.mu.Lock()
	i := d.calls
	d.calls++
	d.mu.Unlock()

	if i == d.FailAt {
		err := d.Err
		if err == nil {
			err = errors.New("scripted detection failure")
		}
		return controller.Frame{}, err
	}
	frame := controller.Frame{Ordinal: i, Image: img}
	if i < len(d.Script) {
		frame.Containers = d.Script[i].Containers
		frame.Items = d.Script[i].Items
	}
	return frame, nil
}

// Name implements controller.Detector.
func (d *ScriptedDetector) Name() string {
	return "scripted"
}

// Calls returns how many frames were detected.
func (d *ScriptedDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// MockSource yields Frames generated frames and then reports end of stream.
type MockSource struct {
	Frames    int
	Generator *MockFrameGenerator
	ID        string

	mu     sync.Mutex
	read   int
	closed bool
}

// NewMockSource returns a source of n blank 640x480 frames.
func NewMockSource(id string, n int) *MockSource {
	return &MockSource{Frames: n, Generator: NewMockFrameGenerator(640, 480), ID: id}
}

// Read implements video.Source.
func (s *MockSource) Read(dst *gocv.Mat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.read >= s.Frames {
		return false
	}
	s.read++
	frame := s.Generator.GenerateStaticFrame()
	defer frame.Close()
	frame.CopyTo(dst)
	return true
}

// Close implements video.Source.
func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Name implements video.Source.
func (s *MockSource) Name() string {
	return s.ID
}

// Closed reports whether Close was called.
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

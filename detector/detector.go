// Package detector - Tray and plate detection with an ONNX YOLO model.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/inference"
	"github.com/nvr-ai/traywatch/video"
)

// Runner is a loaded model with bound input and output buffers.
type Runner interface {
	InputData() []float32
	OutputData() []float32
	Run() error
}

// Config represents the detection settings.
type Config struct {
	// ContainerClass and ItemClass are the model class ids of trays and plates.
	ContainerClass int
	ItemClass      int
	// ConfidenceThreshold filters detections at or below this score.
	ConfidenceThreshold float32
	// NMSThreshold controls Non-Maximum Suppression IoU threshold
	NMSThreshold float32
	// InputSize is the square model input edge.
	InputSize int
	// NumClasses is the number of classes the model scores.
	NumClasses int
}

// DefaultConfig returns the settings of the production tray model.
func DefaultConfig() Config {
	return Config{
		ContainerClass:      0,
		ItemClass:           1,
		ConfidenceThreshold: 0.6,
		NMSThreshold:        0.7,
		InputSize:           640,
		NumClasses:          2,
	}
}

// Detector runs the model on preprocessed frames.
type Detector struct {
	runner Runner
	cfg    Config
	pre    video.Preprocessor
	logger *zap.Logger

	mu         sync.Mutex
	frames     int
	totalTime  time.Duration
	lastLogged time.Time
}

// New creates a detector over runner.
func New(runner Runner, cfg Config, pre video.Preprocessor, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{runner: runner, cfg: cfg, pre: pre, logger: logger}
}

// Open loads the ONNX model and returns a detector over it, with the session
// to close when done.
func Open(opts inference.Options, cfg Config, pre video.Preprocessor, logger *zap.Logger) (*Detector, *inference.Session, error) {
	opts.InputSize = cfg.InputSize
	opts.NumClasses = cfg.NumClasses
	session, err := inference.NewSession(opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return New(session, cfg, pre, logger), session, nil
}

// Detect crops and normalizes img, runs the model and returns trays and plate
// centers in img coordinates. img itself is returned as the frame image.
func (d *Detector) Detect(ctx context.Context, img gocv.Mat) (controller.Frame, error) {
	select {
	case <-ctx.Done():
		return controller.Frame{}, ctx.Err()
	default:
	}

	start := time.Now()
	prepared, offsetX, err := d.pre.Prepare(img)
	if err != nil {
		return controller.Frame{}, err
	}
	defer prepared.Close()

	rgb, err := prepared.ToImage()
	if err != nil {
		return controller.Frame{}, errors.Wrap(err, "convert frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.cfg.InputSize
	if err := inference.PrepareInput(rgb, size, d.runner.InputData()); err != nil {
		return controller.Frame{}, errors.Wrap(err, "prepare input")
	}
	if err := d.runner.Run(); err != nil {
		return controller.Frame{}, err
	}

	scaleX := float32(prepared.Cols()) / float32(size)
	scaleY := float32(prepared.Rows()) / float32(size)
	detections := Decode(d.runner.OutputData(), d.cfg.NumClasses, scaleX, scaleY, d.cfg.ConfidenceThreshold)
	detections = NMS(detections, float64(d.cfg.NMSThreshold))
	containers, items := Split(detections, d.cfg.ContainerClass, d.cfg.ItemClass, offsetX)

	d.track(time.Since(start))
	return controller.Frame{Image: img, Containers: containers, Items: items}, nil
}

// Name identifies the detector in logs.
func (d *Detector) Name() string {
	return "onnx-yolo"
}

// AverageLatency returns the mean time spent per detected frame.
func (d *Detector) AverageLatency() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == 0 {
		return 0
	}
	return d.totalTime / time.Duration(d.frames)
}

// track updates the latency counters; callers hold d.mu.
func (d *Detector) track(elapsed time.Duration) {
	d.frames++
	d.totalTime += elapsed
	if now := time.Now(); now.Sub(d.lastLogged) >= 10*time.Second {
		d.lastLogged = now
		d.logger.Debug("detector throughput",
			zap.Int("frames", d.frames),
			zap.Duration("avg_latency", d.totalTime/time.Duration(d.frames)))
	}
}

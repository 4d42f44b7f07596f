// Package worker - Turns queued video work items into tracking sessions.
package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/metrics"
	"github.com/nvr-ai/traywatch/profiler"
	"github.com/nvr-ai/traywatch/queue"
	"github.com/nvr-ai/traywatch/video"
)

// Stage names reported by the profiler.
const (
	StageRead   = "read"
	StageDetect = "detect"
	StageTrack  = "track"
)

// SourceOpener opens a video by URI.
type SourceOpener func(uri string) (video.Source, error)

// Worker processes one work item at a time. A Worker may be shared by
// several pool goroutines as long as its detector is safe for concurrent use.
type Worker struct {
	detector   controller.Detector
	renderer   controller.Renderer
	dispatcher controller.Dispatcher
	cfg        controller.Config
	open       SourceOpener
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithOpener replaces video.Open.
func WithOpener(open SourceOpener) Option {
	return func(w *Worker) { w.open = open }
}

// WithRenderer sets the snapshot renderer. Without one, confirmed counts still
// raise alarms, but their requests carry an empty Snapshot and no proof image
// can be saved.
func WithRenderer(r controller.Renderer) Option {
	return func(w *Worker) { w.renderer = r }
}

// WithMetrics records frames and session outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// New creates a worker.
//
// Arguments:
//   - detector: Produces detections for each frame.
//   - dispatcher: Receives the alarms of every session.
//   - cfg: Tracking thresholds for new sessions.
//   - logger: Worker logger.
//   - opts: Optional collaborators.
//
// Returns:
//   - *Worker: A worker reading videos through video.Open unless overridden.
func New(detector controller.Detector, dispatcher controller.Dispatcher, cfg controller.Config, logger *zap.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		detector:   detector,
		dispatcher: dispatcher,
		cfg:        cfg,
		open:       video.Open,
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessItem runs one video through a fresh session.
//
// A source that cannot be opened fails before any session exists. A detection
// failure aborts the session without closing alarms. When the stream ends the
// session is finalized, raising closing alarms for confirmed trays.
//
// Arguments:
//   - ctx: Cancels processing between frames. A cancelled session is not finalized.
//   - item: The work item.
//
// Returns:
//   - error: Open, detection or cancellation failure.
func (w *Worker) ProcessItem(ctx context.Context, item queue.WorkItem) error {
	if err := item.Validate(); err != nil {
		w.sessionDone(metrics.ResultRejected)
		return err
	}

	src, err := w.open(item.VideoSource)
	if err != nil {
		w.sessionDone(metrics.ResultRejected)
		return errors.Wrapf(err, "open %s", item.VideoSource)
	}
	defer func() {
		if err := src.Close(); err != nil {
			w.logger.Warn("closing video source", zap.String("video", src.Name()), zap.Error(err))
		}
	}()

	logger := w.logger.With(
		zap.String("task", item.ID),
		zap.String("transaction", item.TransactionID),
		zap.String("video", src.Name()),
	)
	session := controller.NewSession(w.cfg, controller.Meta{
		TransactionID: item.TransactionID,
		VideoID:       src.Name(),
	}, w.renderer, w.dispatcher, logger)
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("releasing snapshots", zap.Error(err))
		}
	}()

	if w.metrics != nil {
		w.metrics.ActiveSessions.Add(1)
		defer w.metrics.ActiveSessions.Add(-1)
	}

	logger.Info("session started", zap.String("detector", w.detector.Name()))
	started := time.Now()
	prof := profiler.New()

	if err := w.run(ctx, src, session, prof); err != nil {
		w.sessionDone(metrics.ResultFailed)
		logger.Error("session aborted", zap.Int("frames", session.Frames()), zap.Error(err))
		return err
	}

	alarms, err := session.Finalize(ctx)
	if err != nil {
		w.sessionDone(metrics.ResultFailed)
		return err
	}
	w.sessionDone(metrics.ResultFinalized)
	prof.Log(logger)
	logger.Info("session finished",
		zap.Int("frames", session.Frames()),
		zap.Int("tracks", len(session.Tracks())),
		zap.Int("closing_alarms", alarms),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (w *Worker) run(ctx context.Context, src video.Source, session *controller.Session, prof *profiler.Profiler) error {
	img := gocv.NewMat()
	defer img.Close()

	for ordinal := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		stop := prof.StartOperation(StageRead)
		ok := src.Read(&img)
		stop()
		if !ok {
			return nil
		}
		if img.Empty() {
			continue
		}

		start := time.Now()
		stop = prof.StartOperation(StageDetect)
		frame, err := w.detector.Detect(ctx, img)
		stop()
		if err != nil {
			return errors.Wrapf(err, "detect frame %d", ordinal)
		}
		frame.Ordinal = ordinal
		frame.Image = img

		stop = prof.StartOperation(StageTrack)
		res, err := session.Process(ctx, frame)
		stop()
		if err != nil {
			return errors.Wrapf(err, "track frame %d", ordinal)
		}

		prof.RecordMetric("containers", float64(len(frame.Containers)))
		if w.metrics != nil {
			w.metrics.ObserveFrame(time.Since(start), len(res.Created), len(res.Captured))
		}
		ordinal++
	}
}

func (w *Worker) sessionDone(result string) {
	if w.metrics != nil {
		w.metrics.Sessions.WithLabelValues(result).Inc()
	}
}

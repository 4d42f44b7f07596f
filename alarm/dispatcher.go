package alarm

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/metrics"
	"github.com/nvr-ai/traywatch/tracking"
)

// Dispatcher turns alarm requests into events. The proof image is written
// before Dispatch returns; webhook delivery and journaling run detached.
type Dispatcher struct {
	proofs   *ProofStore
	notifier Notifier
	journal  Journal
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the clock used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithMetrics enables alarm counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher wires the sinks. notifier and journal may be nil.
func NewDispatcher(proofs *ProofStore, notifier Notifier, journal Journal, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		proofs:   proofs,
		notifier: notifier,
		journal:  journal,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch emits one alarm.
//
// The event is stamped with the dispatcher's clock at the time of the call.
// A failed proof write is returned after the event has been forwarded with an
// empty proof URL. Events without a transaction id are not forwarded.
//
// Arguments:
//   - ctx: Values are kept for the detached sinks; cancellation is not.
//   - req: The alarmed track.
//
// Returns:
//   - error: The proof write failure, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, req controller.AlarmRequest) error {
	cat := tracking.Classify(req.MaxCount)
	logger := d.logger.With(
		zap.String("transaction", req.TransactionID),
		zap.String("video", req.VideoID),
		zap.Int("track", req.TrackID),
		zap.Stringer("category", cat),
		zap.Bool("closing", req.Closing),
	)

	var proofErr error
	ev := Event{
		TransactionID: req.TransactionID,
		Category:      cat,
		VideoID:       req.VideoID,
		TrackID:       req.TrackID,
		MaxCount:      req.MaxCount,
		Closing:       req.Closing,
	}
	if d.proofs != nil {
		ref, err := d.proofs.Save(req.VideoID, req.TrackID, cat, req.Snapshot)
		if err != nil {
			proofErr = errors.Wrap(err, "save proof")
		} else {
			ev.ProofURL = ref.URL
			logger.Info("proof saved", zap.String("path", ref.Path))
		}
	}
	ev.EmittedAt = d.clock.Now().UTC()

	if d.metrics != nil {
		d.metrics.AlarmEmitted(req.Closing)
	}
	logger.Info("alarm", zap.String("proof_url", ev.ProofURL), zap.Int("max_count", req.MaxCount))

	if req.TransactionID == "" {
		logger.Debug("alarm not forwarded without transaction id")
		return proofErr
	}

	detached := context.WithoutCancel(ctx)
	if d.notifier != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.notifier.Notify(detached, ev); err != nil {
				logger.Warn("alarm delivery failed", zap.Error(err))
				if d.metrics != nil {
					d.metrics.NotifyFailures.Inc()
				}
			}
		}()
	}
	if d.journal != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.journal.Append(detached, ev); err != nil {
				logger.Warn("alarm journal append failed", zap.Error(err))
				if d.metrics != nil {
					d.metrics.JournalFailures.Inc()
				}
			}
		}()
	}
	return proofErr
}

// Wait blocks until every detached delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

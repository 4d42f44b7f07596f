package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/traywatch/alarm"
	"github.com/nvr-ai/traywatch/config"
	"github.com/nvr-ai/traywatch/detector"
	"github.com/nvr-ai/traywatch/images"
	"github.com/nvr-ai/traywatch/inference"
	"github.com/nvr-ai/traywatch/metrics"
	"github.com/nvr-ai/traywatch/queue"
	"github.com/nvr-ai/traywatch/snapshot"
	"github.com/nvr-ai/traywatch/store"
	"github.com/nvr-ai/traywatch/worker"
)

// services holds the long-lived collaborators shared by serve and process.
type services struct {
	cfg        config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	db         *store.DB
	reader     alarm.Reader
	dispatcher *alarm.Dispatcher
	model      *inference.Session
}

func newServices(cfg config.Config, logger *zap.Logger) (*services, error) {
	rt := &services{cfg: cfg, logger: logger, metrics: metrics.New()}

	if cfg.UsesStore() {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		rt.db = db
		if err := db.MigrateUp(logger); err != nil {
			rt.Close()
			return nil, err
		}
	}

	var journal alarm.Journal
	switch cfg.Alarm.Journal {
	case config.BackendSQLite:
		j := store.NewJournal(rt.db)
		journal, rt.reader = j, j
	default:
		j := alarm.NewFileJournal(cfg.Alarm.JournalDir)
		journal, rt.reader = j, j
	}

	var notifier alarm.Notifier
	if cfg.Alarm.WebhookURL != "" {
		n := alarm.NewWebhookNotifier(cfg.Alarm.WebhookURL)
		n.Timeout = cfg.Alarm.WebhookTimeout
		notifier = n
	} else {
		logger.Warn("alarm.webhook_url is empty, alarms are journaled only")
	}

	format, err := images.ParseImageFormat(cfg.Alarm.ImageFormat)
	if err != nil {
		rt.Close()
		return nil, err
	}
	proofs := alarm.NewProofStore(cfg.Alarm.ProofDir, cfg.Alarm.ProofBaseURL, format)
	rt.dispatcher = alarm.NewDispatcher(proofs, notifier, journal, logger.Named("alarm"), alarm.WithMetrics(rt.metrics))
	return rt, nil
}

// openQueue returns the configured work queue. Items claimed by a previous
// process are put back first.
func (rt *services) openQueue(ctx context.Context) (queue.Queue, error) {
	if rt.cfg.Queue.Backend != config.BackendSQLite {
		return queue.NewMemory(rt.cfg.Queue.Capacity, rt.cfg.Queue.PollInterval), nil
	}
	q := store.NewQueue(rt.db, rt.cfg.Queue.PollInterval)
	n, err := q.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		rt.logger.Info("requeued interrupted tasks", zap.Int64("count", n))
	}
	return q, nil
}

// newWorker loads the model once. The detector serializes inference, so the
// worker is shared by every pool goroutine.
func (rt *services) newWorker() (*worker.Worker, error) {
	det, model, err := detector.Open(
		rt.cfg.Detector.Inference(),
		rt.cfg.Detector.Detection(),
		rt.cfg.Video.Preprocessor(),
		rt.logger.Named("detector"),
	)
	if err != nil {
		return nil, err
	}
	rt.model = model
	return worker.New(det, rt.dispatcher, rt.cfg.Tracking.Controller(), rt.logger,
		worker.WithRenderer(snapshot.NewRenderer()),
		worker.WithMetrics(rt.metrics),
	), nil
}

func (rt *services) newPool(q queue.Queue, w *worker.Worker) *worker.Pool {
	return worker.NewPool(q, w, rt.cfg.Worker.Concurrency, rt.logger)
}

// Close releases the model and the database.
func (rt *services) Close() error {
	var err error
	if rt.model != nil {
		err = multierr.Append(err, rt.model.Close())
	}
	if rt.db != nil {
		err = multierr.Append(err, rt.db.Close())
	}
	return err
}

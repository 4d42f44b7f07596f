package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvr-ai/traywatch/queue"
)

// retryDelay is the pause after a queue error other than ErrEmpty.
const retryDelay = time.Second

// Processor handles one work item.
type Processor interface {
	ProcessItem(ctx context.Context, item queue.WorkItem) error
}

// Pool runs Concurrency goroutines that drain a queue.
type Pool struct {
	queue       queue.Queue
	processor   Processor
	concurrency int
	logger      *zap.Logger
}

// NewPool creates a pool. A concurrency below 1 is raised to 1.
func NewPool(q queue.Queue, p Processor, concurrency int, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{queue: q, processor: p, concurrency: max(concurrency, 1), logger: logger.Named("pool")}
}

// Run consumes items until ctx is done or the queue is closed. Items in
// progress when ctx ends are acknowledged with the cancellation error.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error {
			return p.loop(ctx, i)
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, n int) error {
	logger := p.logger.With(zap.Int("worker", n))
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		item, err := p.queue.Dequeue(ctx)
		switch {
		case err == nil:
		case errors.Is(err, queue.ErrEmpty):
			continue
		case errors.Is(err, queue.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			logger.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		logger.Info("processing task", zap.String("task", item.ID), zap.String("video_url", item.VideoSource))
		procErr := p.processor.ProcessItem(ctx, item)
		if procErr != nil {
			logger.Warn("task failed", zap.String("task", item.ID), zap.Error(procErr))
		}
		if err := p.queue.Ack(context.WithoutCancel(ctx), item, procErr); err != nil {
			logger.Error("acknowledging task", zap.String("task", item.ID), zap.Error(err))
		}
	}
}

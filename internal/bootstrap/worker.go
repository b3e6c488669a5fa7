package bootstrap

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	worker "github.com/frappe/mail/adapter/in/worker"
	"github.com/frappe/mail/config"
	"github.com/frappe/mail/internal/scheduler"
	"github.com/frappe/mail/pkg/logger"
)

// Worker runs the pool that drains the broker's queues and the cron
// scheduler that drives the batch/retention cadences, grounded on
// worker_bootstrap.go's ctx/cancel/wg/pool runtime shape.
type Worker struct {
	pool      *worker.Pool
	scheduler *scheduler.Scheduler
	deps      *Dependencies

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	pool := worker.NewPool(deps.WorkerHandler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if cfg.SchedulerEnabled {
		w.scheduler = scheduler.New(deps.Redis)
		err := w.scheduler.Register(
			func(ctx context.Context) {
				w.pool.Submit(worker.NewMessage(worker.JobTransferBatch, map[string]any{"max_batch_size": cfg.MaxBatchSize}))
			},
			func(ctx context.Context) {
				w.pool.Submit(worker.NewMessage(worker.JobIntakeDrain, nil))
			},
			func(ctx context.Context) {
				w.pool.Submit(worker.NewMessage(worker.JobStatusDrain, nil))
			},
			func(ctx context.Context) {
				w.pool.Submit(worker.NewMessage(worker.JobNewsletterDrain, nil))
			},
			func(ctx context.Context) {
				deps.Retention.Purge(ctx)
			},
		)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	} else {
		logger.Info("scheduler disabled, worker will only process direct submissions")
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	if w.scheduler != nil {
		w.scheduler.Start()
		w.zlog.Info().Msg("scheduler started")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}

package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	MaxWorkers       int
	QueueSize        int
	BatchSize        int
	WorkerChanSize   int
	JobTimeout       time.Duration
	JobTimeoutByType map[JobType]time.Duration
	MaxRetries       int
}

func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxWorkers:     8,
		QueueSize:      500,
		BatchSize:      10,
		WorkerChanSize: 100,
		JobTimeout:     30 * time.Second,
		MaxRetries:     3,
		JobTimeoutByType: map[JobType]time.Duration{
			JobIntakeDrain:       2 * time.Minute,
			JobStatusDrain:       2 * time.Minute,
			JobNewsletterDrain:   5 * time.Minute,
			JobTransferBatch:     5 * time.Minute,
			JobTransferImmediate: 15 * time.Second,
			JobRetryFailed:       15 * time.Second,
		},
	}
}

// Pool is the bounded concurrent job runner that every drain/dispatch
// path in this package submits into, built on go-pkgz/pool the same
// way the teacher's email-sync pool is.
type Pool struct {
	handler *Handler
	config  *PoolConfig

	pool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics PoolMetrics
	log     zerolog.Logger

	started bool
	mu      sync.Mutex
}

type PoolMetrics struct {
	JobsProcessed int64
	JobsFailed    int64
	JobsRetried   int64
}

type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With().Str("component", "worker_pool").Logger(),
	}
}

func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}

	worker := &messageWorker{pool: p}
	p.pool = pool.New[*Message](p.config.MaxWorkers, worker).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start worker pool")
		return
	}
	p.started = true
	p.log.Info().Int("max_workers", p.config.MaxWorkers).Msg("worker pool started")
}

func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if p.pool != nil {
		if err := p.pool.Close(closeCtx); err != nil {
			p.log.Warn().Err(err).Msg("error closing worker pool")
		}
	}
	p.cancel()
	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit enqueues msg; it returns false if the pool hasn't started.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	started, pl := p.started, p.pool
	p.mu.Unlock()
	if !started || pl == nil {
		return false
	}
	pl.Submit(msg)
	return true
}

func (p *Pool) getJobTimeout(jobType JobType) time.Duration {
	if timeout, ok := p.config.JobTimeoutByType[jobType]; ok {
		return timeout
	}
	return p.config.JobTimeout
}

func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	timeout := p.getJobTimeout(msg.Type)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.handler.Process(jobCtx, msg) }()

	var err error
	select {
	case err = <-errCh:
	case <-jobCtx.Done():
		err = jobCtx.Err()
		p.log.Warn().Str("job_id", msg.ID).Str("job_type", msg.Type).Dur("timeout", timeout).Msg("job timed out")
	}

	if err != nil {
		p.log.Error().Err(err).Str("job_id", msg.ID).Str("job_type", msg.Type).Int("retries", msg.Retries).Msg("job failed")

		if msg.Retries < p.config.MaxRetries {
			msg.Retries++
			atomic.AddInt64(&p.metrics.JobsRetried, 1)
			base := time.Duration(1<<msg.Retries) * time.Second
			jitter := time.Duration(rand.Intn(500)) * time.Millisecond
			time.AfterFunc(base+jitter, func() { p.Submit(msg) })
		} else {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
		}
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	return nil
}

func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:   atomic.LoadInt64(&p.metrics.JobsRetried),
	}
}

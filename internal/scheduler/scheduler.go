// Package scheduler drives the cron cadences that enqueue the
// transfer/intake/status/newsletter drain jobs and the retention
// sweeps, grounded on spec §4.8's cadence table.
package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/frappe/mail/pkg/cache"
	"github.com/frappe/mail/pkg/logger"
)

// enqueueGuardTTL keeps a job name locked out for slightly less than
// the shortest cadence it runs on, so a slow prior tick's lock always
// expires before the next one fires.
const enqueueGuardTTL = 50 * time.Second

// Enqueuer submits a named job for the worker pool to pick up.
type Enqueuer func(ctx context.Context)

// Scheduler wraps robfig/cron with a Redis-backed enqueue-dedup guard:
// a job already queued under its name is skipped, rather than queued
// twice, mirroring frappe's own scheduler lock semantics.
type Scheduler struct {
	cron  *cron.Cron
	cache *cache.RedisCache
}

func New(redisClient *redis.Client) *Scheduler {
	s := &Scheduler{cron: cron.New(cron.WithSeconds())}
	if redisClient != nil {
		s.cache = cache.NewRedisCache(redisClient)
	}
	return s
}

// guard skips fn if a job of the same name is already queued; the lock
// is intentionally not released on completion, so the guard also caps
// how often the job can fire within enqueueGuardTTL even if the
// scheduler misfires.
func (s *Scheduler) guard(name string, fn Enqueuer) func() {
	return func() {
		ctx := context.Background()
		if s.cache != nil {
			ok, err := s.cache.SetNX(ctx, "scheduler:lock:"+name, "1", enqueueGuardTTL)
			if err != nil {
				logger.WithError(err).WithField("job", name).Warn("scheduler lock check failed, running anyway")
			} else if !ok {
				logger.Debug("scheduler: %s already queued, skipping", name)
				return
			}
		}
		fn(ctx)
	}
}

// Register wires every cadence in spec §4.8 to its enqueuer. Callers
// pass enqueue funcs bound to a running worker.Pool (e.g.
// func(ctx) { pool.Submit(worker.NewMessage(worker.JobTransferBatch, ...)) }).
func (s *Scheduler) Register(transferMails, getIncomingMails, getOutgoingStatus, processNewsletters, purgeRetention Enqueuer) error {
	specs := []struct {
		cadence string
		name    string
		fn      Enqueuer
	}{
		{"0 * * * * *", "transfer_mails", transferMails},
		{"0 * * * * *", "get_incoming_mails", getIncomingMails},
		{"0 */2 * * * *", "get_outgoing_mails_status", getOutgoingStatus},
		{"0 */2 * * * *", "process_newsletter_queue", processNewsletters},
		{"0 0 0 * * *", "purge_retention", purgeRetention},
	}
	for _, s2 := range specs {
		if _, err := s.cron.AddFunc(s2.cadence, s.guard(s2.name, s2.fn)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

package mail

import (
	"context"
	"time"

	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/logger"
)

// Retention runs the daily garbage-collection sweeps: newsletters past
// newsletter_retention, rejected inbound past rejected_mail_retention,
// and spam-check logs past the same rejected-mail window.
type Retention struct {
	outgoing out.OutgoingMailRepository
	incoming out.IncomingMailRepository
	spamLogs out.SpamCheckLogRepository

	newsletterRetentionDays int
	rejectedRetentionDays   int

	now func() time.Time
}

func NewRetention(outgoing out.OutgoingMailRepository, incoming out.IncomingMailRepository, spamLogs out.SpamCheckLogRepository, newsletterRetentionDays, rejectedRetentionDays int) *Retention {
	return &Retention{
		outgoing: outgoing, incoming: incoming, spamLogs: spamLogs,
		newsletterRetentionDays: newsletterRetentionDays,
		rejectedRetentionDays:   rejectedRetentionDays,
		now:                     time.Now,
	}
}

// Purge runs all three sweeps, logging (not failing) on a per-sweep
// error so one repository's outage doesn't block the others.
func (r *Retention) Purge(ctx context.Context) {
	now := r.now()

	if n, err := r.outgoing.PurgeNewslettersOlderThan(ctx, now.AddDate(0, 0, -r.newsletterRetentionDays)); err != nil {
		logger.WithError(err).Warn("newsletter retention purge failed")
	} else if n > 0 {
		logger.Info("purged %d newsletters past retention", n)
	}

	if n, err := r.incoming.PurgeRejectedOlderThan(ctx, now.AddDate(0, 0, -r.rejectedRetentionDays)); err != nil {
		logger.WithError(err).Warn("rejected-mail retention purge failed")
	} else if n > 0 {
		logger.Info("purged %d rejected incoming mails past retention", n)
	}

	if n, err := r.spamLogs.PurgeOlderThan(ctx, now.AddDate(0, 0, -r.rejectedRetentionDays)); err != nil {
		logger.WithError(err).Warn("spam check log retention purge failed")
	} else if n > 0 {
		logger.Info("purged %d spam check logs past retention", n)
	}
}

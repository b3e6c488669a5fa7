package mail

import (
	"context"
	"testing"
	"time"

	"github.com/frappe/mail/core/domain"
)

type countingSpamLogRepo struct {
	purgeCalls int
}

func (c *countingSpamLogRepo) Create(ctx context.Context, l *domain.SpamCheckLog) error { return nil }
func (c *countingSpamLogRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	c.purgeCalls++
	return 0, nil
}

func TestRetentionPurgeRunsAllThreeSweeps(t *testing.T) {
	mails := newFakeOutgoingRepo()
	incoming := newFakeIncomingRepo()
	logs := &countingSpamLogRepo{}

	old := time.Now().AddDate(0, 0, -40)
	recent := time.Now().AddDate(0, 0, -1)

	mails.byName["n1"] = &domain.OutgoingMail{Name: "n1", IsNewsletter: true, CreatedAt: old}
	mails.byName["n2"] = &domain.OutgoingMail{Name: "n2", IsNewsletter: true, CreatedAt: recent}
	incoming.byName["i1"] = &domain.IncomingMail{Name: "i1", IsRejected: true, CreatedAt: old}
	incoming.byName["i2"] = &domain.IncomingMail{Name: "i2", IsRejected: true, CreatedAt: recent}

	r := NewRetention(mails, incoming, logs, 30, 30)
	r.Purge(context.Background())

	if len(mails.byName) != 1 {
		t.Errorf("expected the old newsletter purged, %d mails remain", len(mails.byName))
	}
	if _, ok := mails.byName["n1"]; ok {
		t.Errorf("old newsletter n1 should have been purged")
	}
	if len(incoming.byName) != 1 {
		t.Errorf("expected the old rejected mail purged, %d remain", len(incoming.byName))
	}
	if logs.purgeCalls != 1 {
		t.Errorf("expected spam log purge to run once, got %d", logs.purgeCalls)
	}
}

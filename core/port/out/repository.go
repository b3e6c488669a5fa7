package out

import (
	"context"
	"time"

	"github.com/frappe/mail/core/domain"
)

type MailDomainRepository interface {
	Get(ctx context.Context, name string) (*domain.MailDomain, error)
	Create(ctx context.Context, d *domain.MailDomain) error
	Update(ctx context.Context, d *domain.MailDomain) error
	RootDomain(ctx context.Context) (*domain.MailDomain, error)
}

type DKIMKeyRepository interface {
	ActiveKey(ctx context.Context, domain string) (*domain.DKIMKey, error)
	Create(ctx context.Context, k *domain.DKIMKey) error
	// DisableAll disables every existing key for domain. It is a separate
	// call from Create; the two do not share a transaction.
	DisableAll(ctx context.Context, domain string) error
}

type MailboxRepository interface {
	Get(ctx context.Context, email string) (*domain.Mailbox, error)
	ListByUser(ctx context.Context, user string) ([]domain.Mailbox, error)
	Create(ctx context.Context, m *domain.Mailbox) error
	Update(ctx context.Context, m *domain.Mailbox) error
}

type MailAliasRepository interface {
	Get(ctx context.Context, alias string) (*domain.MailAlias, error)
}

type OutgoingMailRepository interface {
	Get(ctx context.Context, name string) (*domain.OutgoingMail, error)
	GetByQueueID(ctx context.Context, queueID string) (*domain.OutgoingMail, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.OutgoingMail, error)
	Create(ctx context.Context, m *domain.OutgoingMail) error
	Update(ctx context.Context, m *domain.OutgoingMail) error

	// SelectPendingBatch atomically selects up to limit mails with
	// (docstatus=1, status=Pending) ordered by submitted_at and flips them
	// to Transferring in the same statement.
	SelectPendingBatch(ctx context.Context, limit int) ([]domain.OutgoingMail, error)

	// MarkTransferred bulk-updates the given mails to Transferred with
	// transferred_at/transferred_after computed server-side.
	MarkTransferred(ctx context.Context, names []string, now time.Time) error

	// MarkFailed bulk-updates the given mails to Failed with an error log.
	MarkFailed(ctx context.Context, names []string, errLog string) error

	// UpdateRecipientStatus applies one recipient's status transition and,
	// in the same transaction, recomputes and persists the mail-level
	// status.
	UpdateRecipientStatus(ctx context.Context, mailName string, rcpt domain.MailRecipient) error

	// IncrementOpenCount performs the single-statement idempotent counter
	// update behind GET /track/open.
	IncrementOpenCount(ctx context.Context, trackingID string, now time.Time) error

	// PurgeNewslettersOlderThan deletes newsletter mails created before
	// cutoff, returning the number removed.
	PurgeNewslettersOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type IncomingMailRepository interface {
	Get(ctx context.Context, name string) (*domain.IncomingMail, error)
	Create(ctx context.Context, m *domain.IncomingMail) error
	// ListSince returns mails for receiver with processed_at > cursor,
	// ordered by processed_at ascending, limited to limit rows.
	ListSince(ctx context.Context, receiver string, cursor time.Time, limit int) ([]domain.IncomingMail, error)

	// PurgeRejectedOlderThan deletes rejected incoming mails created
	// before cutoff, returning the number removed.
	PurgeRejectedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MailSyncHistoryRepository interface {
	Get(ctx context.Context, source, user, mailbox string) (*domain.MailSyncHistory, error)
	Upsert(ctx context.Context, h *domain.MailSyncHistory) error
}

type IPBlacklistRepository interface {
	// LookupGroup returns the blacklist entry matching ip's group scope, if
	// any exists for that group.
	LookupGroup(ctx context.Context, ipGroup string) (*domain.IPBlacklist, error)
	Create(ctx context.Context, b *domain.IPBlacklist) error
}

type SpamCheckLogRepository interface {
	Create(ctx context.Context, l *domain.SpamCheckLog) error
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MailContactRepository interface {
	Upsert(ctx context.Context, c *domain.MailContact) error
}

package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/logger"
)

// outgoingEnvelope is the wire body published to OUTGOING_MAIL_QUEUE,
// carrying the mail's uuid alongside the signed message so the agent (and
// the status reconciler, via the queue_id/uuid it later reports) can
// correlate deliveries back to this mail.
type outgoingEnvelope struct {
	OutgoingMail string   `json:"outgoing_mail"`
	Recipients   []string `json:"recipients"`
	Message      string   `json:"message"`
}

const outgoingMailExchange = ""
const outgoingMailQueue = "OUTGOING_MAIL_QUEUE"

const maxTransferRetries = 3

// Transfer implements the Outbound Transfer Worker: handing Pending mails
// to the broker and flipping them to Transferring/Transferred/Failed,
// either one at a time (the immediate API path) or in cron-drained
// batches.
type Transfer struct {
	mails   out.OutgoingMailRepository
	domains out.MailDomainRepository
	broker  out.BrokerClient
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewTransfer(mails out.OutgoingMailRepository, domains out.MailDomainRepository, broker out.BrokerClient) *Transfer {
	settings := gobreaker.Settings{
		Name:        "broker-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	}
	return &Transfer{
		mails: mails, domains: domains, broker: broker,
		breaker: gobreaker.NewCircuitBreaker(settings),
		now:     time.Now,
	}
}

// TransferImmediate publishes a single mail at priority 3 when it
// qualifies; otherwise it is left for the batch path and this is a no-op.
func (t *Transfer) TransferImmediate(ctx context.Context, mailName string) error {
	m, err := t.mails.Get(ctx, mailName)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.NotFound("outgoing_mail")
	}
	if !m.EligibleForImmediateTransfer(t.now()) {
		return nil
	}
	return t.publish(ctx, m, 3)
}

// TransferBatch drains up to maxBatchSize pending mails, publishing each
// in batch order at the priority of its (newsletter, root-domain) class.
func (t *Transfer) TransferBatch(ctx context.Context, maxBatchSize int) (int, error) {
	batch, err := t.mails.SelectPendingBatch(ctx, maxBatchSize)
	if err != nil {
		return 0, err
	}
	root, err := t.domains.RootDomain(ctx)
	if err != nil {
		return 0, err
	}

	var transferred, failed []string
	for i := range batch {
		m := &batch[i]
		isRoot := root != nil && senderDomain(m.Sender) == root.Name
		priority := domain.TransferPriority(m.IsNewsletter, isRoot)
		if err := t.publish(ctx, m, priority); err != nil {
			logger.WithError(err).Warn("failed to publish outgoing mail %s", m.Name)
			failed = append(failed, m.Name)
			continue
		}
		transferred = append(transferred, m.Name)
	}

	now := t.now()
	if len(transferred) > 0 {
		if err := t.mails.MarkTransferred(ctx, transferred, now); err != nil {
			return len(transferred), err
		}
	}
	if len(failed) > 0 {
		if err := t.mails.MarkFailed(ctx, failed, "broker publish failed after retry"); err != nil {
			return len(transferred), err
		}
	}
	return len(transferred), nil
}

// RetryFailedMail re-publishes a mail sitting in the terminal Failed
// status. Automatic retry stops at maxTransferRetries; beyond that an
// operator must call this explicitly.
func (t *Transfer) RetryFailedMail(ctx context.Context, mailName string) error {
	m, err := t.mails.Get(ctx, mailName)
	if err != nil {
		return err
	}
	if m == nil {
		return apperr.NotFound("outgoing_mail")
	}
	if m.Status != domain.StatusFailed {
		return apperr.InvalidInput("status", "mail is not in Failed status")
	}
	m.Status = domain.StatusPending
	m.ErrorLog = ""
	if err := t.mails.Update(ctx, m); err != nil {
		return err
	}
	return t.publish(ctx, m, 3)
}

func (t *Transfer) publish(ctx context.Context, m *domain.OutgoingMail, priority uint8) error {
	recipients := make([]string, 0, len(m.Recipients))
	for _, r := range m.Recipients {
		recipients = append(recipients, r.Email)
	}
	body, err := json.Marshal(outgoingEnvelope{OutgoingMail: m.Name, Recipients: recipients, Message: m.Message})
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", m.Name, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxTransferRetries; attempt++ {
		_, err := t.breaker.Execute(func() (any, error) {
			return nil, t.broker.Publish(ctx, outgoingMailExchange, outgoingMailQueue, body, priority, true)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", m.Name, maxTransferRetries, lastErr)
}

func senderDomain(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}

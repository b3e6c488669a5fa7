package mail

import (
	"context"
	"encoding/json"
	"net/mail"
	"time"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/logger"
)

const statusHookQueue = "OUTGOING_MAIL_STATUS_QUEUE"

// statusHook is one delivery-status notification drained off the status
// queue, grounded on get_outgoing_mails_status_from_agent's callback.
type statusHook struct {
	Hook         string          `json:"hook"` // queue_ok | deferred | bounce | delivered
	OutgoingMail string          `json:"outgoing_mail,omitempty"`
	QueueID      string          `json:"queue_id,omitempty"`
	Retries      int             `json:"retries"`
	ActionAt     string          `json:"action_at"`
	RcptTo       []hookRecipient `json:"rcpt_to,omitempty"`
	OKRecipients []hookRecipient `json:"ok_recips,omitempty"`
}

type hookRecipient struct {
	Original string `json:"original"`
}

// Reconciler implements the Status Reconciler: folding queue_ok,
// deferred/bounce, and delivered hooks into per-recipient and mail-level
// status, acknowledging the queue message only once the update commits.
type Reconciler struct {
	mails  out.OutgoingMailRepository
	broker out.BrokerClient
	now    func() time.Time
}

func NewReconciler(mails out.OutgoingMailRepository, broker out.BrokerClient) *Reconciler {
	return &Reconciler{mails: mails, broker: broker, now: time.Now}
}

func (r *Reconciler) DrainOnce(ctx context.Context) (int, error) {
	count := 0
	for {
		msg, ok, err := r.broker.BasicGet(ctx, statusHookQueue, false)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		if err := r.handle(ctx, msg.Body); err != nil {
			logger.WithError(err).Warn("failed to apply outgoing mail status hook")
			r.broker.Nack(ctx, msg.DeliveryTag, true)
			continue
		}
		r.broker.Ack(ctx, msg.DeliveryTag)
		count++
	}
}

func (r *Reconciler) handle(ctx context.Context, body []byte) error {
	var hook statusHook
	if err := json.Unmarshal(body, &hook); err != nil {
		return err
	}

	switch hook.Hook {
	case "queue_ok":
		return r.queueOK(ctx, hook)
	case "deferred", "bounce":
		return r.undelivered(ctx, hook)
	case "delivered":
		return r.delivered(ctx, hook)
	default:
		logger.Warn("unknown status hook %q", hook.Hook)
		return nil
	}
}

func (r *Reconciler) resolveMail(ctx context.Context, hook statusHook) (*domain.OutgoingMail, error) {
	if hook.OutgoingMail != "" {
		return r.mails.Get(ctx, hook.OutgoingMail)
	}
	return r.mails.GetByQueueID(ctx, hook.QueueID)
}

func (r *Reconciler) queueOK(ctx context.Context, hook statusHook) error {
	m, err := r.resolveMail(ctx, hook)
	if err != nil || m == nil {
		return err
	}
	m.Status = domain.StatusQueued
	m.QueueID = hook.QueueID
	return r.mails.Update(ctx, m)
}

func (r *Reconciler) undelivered(ctx context.Context, hook statusHook) error {
	m, err := r.resolveMail(ctx, hook)
	if err != nil || m == nil {
		return err
	}

	target := domain.RecipientStatusBounced
	if hook.Hook == "deferred" {
		target = domain.RecipientStatusDeferred
	}

	byEmail := make(map[string]hookRecipient)
	for _, rc := range hook.RcptTo {
		if addr, err := mail.ParseAddress(rc.Original); err == nil {
			byEmail[addr.Address] = rc
		}
	}

	actionAt, _ := time.Parse(time.RFC3339, hook.ActionAt)
	return r.applyRecipients(ctx, m, byEmail, target, hook.Retries, actionAt)
}

func (r *Reconciler) delivered(ctx context.Context, hook statusHook) error {
	m, err := r.resolveMail(ctx, hook)
	if err != nil || m == nil {
		return err
	}

	byEmail := make(map[string]hookRecipient)
	for _, rc := range hook.OKRecipients {
		if addr, err := mail.ParseAddress(rc.Original); err == nil {
			byEmail[addr.Address] = rc
		}
	}

	actionAt, _ := time.Parse(time.RFC3339, hook.ActionAt)
	return r.applyRecipients(ctx, m, byEmail, domain.RecipientStatusSent, hook.Retries, actionAt)
}

func (r *Reconciler) applyRecipients(ctx context.Context, m *domain.OutgoingMail, matched map[string]hookRecipient, target domain.RecipientStatus, retries int, actionAt time.Time) error {
	for i := range m.Recipients {
		rcpt := &m.Recipients[i]
		detail, ok := matched[rcpt.Email]
		if !ok {
			continue
		}
		if !domain.CanTransition(rcpt.Status, target) {
			continue
		}
		rcpt.Status = target
		rcpt.Retries = retries
		rcpt.ActionAt = &actionAt
		if m.SubmittedAt != nil {
			after := actionAt.Sub(*m.SubmittedAt).Seconds()
			rcpt.ActionAfter = &after
		}
		raw, _ := json.Marshal(detail)
		var details map[string]any
		json.Unmarshal(raw, &details)
		rcpt.Details = details

		if err := r.mails.UpdateRecipientStatus(ctx, m.Name, *rcpt); err != nil {
			return err
		}
	}
	m.Status = domain.DeriveOutgoingStatus(m.Recipients)
	return r.mails.Update(ctx, m)
}

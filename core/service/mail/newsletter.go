package mail

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/logger"
)

const newsletterQueue = "NEWSLETTER_QUEUE"

// NewsletterEnvelope is one staged campaign recipient batch, bulk
// inserted onto NEWSLETTER_QUEUE ahead of the normal submit path so a
// large campaign doesn't block the submitting request on composing
// every recipient's mail synchronously.
type NewsletterEnvelope struct {
	Actor      domain.Context   `json:"actor"`
	Submission in.Submission    `json:"submission"`
}

// NewsletterDrainer drains staged newsletter envelopes, composing each
// into a persisted OutgoingMail the same way an immediate API
// submission is, but with IsNewsletter/SendInBatch already set so the
// transfer worker's batched path picks it up at priority 0.
type NewsletterDrainer struct {
	composer in.Composer
	broker   out.BrokerClient
}

func NewNewsletterDrainer(composer in.Composer, broker out.BrokerClient) *NewsletterDrainer {
	return &NewsletterDrainer{composer: composer, broker: broker}
}

func (d *NewsletterDrainer) DrainOnce(ctx context.Context) (int, error) {
	count := 0
	for {
		msg, ok, err := d.broker.BasicGet(ctx, newsletterQueue, false)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}

		var env NewsletterEnvelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			logger.WithError(err).Warn("failed to decode newsletter envelope")
			d.broker.Nack(ctx, msg.DeliveryTag, false)
			continue
		}

		env.Submission.IsNewsletter = true
		env.Submission.SendInBatch = true
		if _, err := d.composer.Compose(ctx, env.Actor, env.Submission); err != nil {
			logger.WithError(err).Warn("failed to compose newsletter recipient")
			d.broker.Nack(ctx, msg.DeliveryTag, true)
			continue
		}
		d.broker.Ack(ctx, msg.DeliveryTag)
		count++
	}
}

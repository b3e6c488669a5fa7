package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/pkg/logger"
)

// Handler dispatches a drained Message to the core worker service its
// JobType names.
type Handler struct {
	transfer    in.TransferWorker
	intake      in.IntakeWorker
	reconciler  in.Reconciler
	newsletter  NewsletterDrainer
}

// NewsletterDrainer processes one NEWSLETTER_QUEUE envelope at a time;
// implemented by the newsletter-staging consumer.
type NewsletterDrainer interface {
	DrainOnce(ctx context.Context) (int, error)
}

func NewHandler(transfer in.TransferWorker, intake in.IntakeWorker, reconciler in.Reconciler, newsletter NewsletterDrainer) *Handler {
	return &Handler{transfer: transfer, intake: intake, reconciler: reconciler, newsletter: newsletter}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("processing worker job: %s", msg.Type)

	switch msg.Type {
	case JobIntakeDrain:
		_, err := h.intake.DrainOnce(ctx)
		return err

	case JobStatusDrain:
		_, err := h.reconciler.DrainOnce(ctx)
		return err

	case JobNewsletterDrain:
		if h.newsletter == nil {
			return nil
		}
		_, err := h.newsletter.DrainOnce(ctx)
		return err

	case JobTransferBatch:
		payload, err := ParsePayload[TransferBatchPayload](msg)
		if err != nil {
			return fmt.Errorf("parse transfer batch payload: %w", err)
		}
		_, err = h.transfer.TransferBatch(ctx, payload.MaxBatchSize)
		return err

	case JobTransferImmediate:
		payload, err := ParsePayload[MailNamePayload](msg)
		if err != nil {
			return fmt.Errorf("parse mail name payload: %w", err)
		}
		return h.transfer.TransferImmediate(ctx, payload.MailName)

	case JobRetryFailed:
		payload, err := ParsePayload[MailNamePayload](msg)
		if err != nil {
			return fmt.Errorf("parse mail name payload: %w", err)
		}
		return h.transfer.RetryFailedMail(ctx, payload.MailName)

	default:
		logger.Warn("unknown worker job type: %s", msg.Type)
		return nil
	}
}

// ParsePayload decodes msg.Payload into T via a JSON round-trip, the
// same approach the teacher's dispatcher uses for its map[string]any
// payloads.
func ParsePayload[T any](msg *Message) (*T, error) {
	var payload T
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

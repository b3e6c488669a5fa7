// Package worker implements the go-pkgz/pool-backed consumer pool that
// drains the broker's queues and drives the cron-triggered batch jobs.
package worker

import (
	"time"

	"github.com/google/uuid"
)

// JobType identifies which drain/dispatch path a Message routes to.
type JobType = string

const (
	JobIntakeDrain       JobType = "mail.intake_drain"
	JobStatusDrain       JobType = "mail.status_drain"
	JobNewsletterDrain   JobType = "mail.newsletter_drain"
	JobTransferBatch     JobType = "mail.transfer_batch"
	JobTransferImmediate JobType = "mail.transfer_immediate"
	JobRetryFailed       JobType = "mail.retry_failed"
)

// Message is one unit of pool work; its Payload is interpreted
// according to Type by Handler.Process.
type Message struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType JobType, payload map[string]any) *Message {
	return &Message{ID: uuid.New().String(), Type: jobType, Payload: payload, CreatedAt: time.Now()}
}

// TransferBatchPayload drives TransferWorker.TransferBatch.
type TransferBatchPayload struct {
	MaxBatchSize int `json:"max_batch_size"`
}

// MailNamePayload carries a single OutgoingMail identity, used by both
// the immediate-transfer and retry-failed dispatch paths.
type MailNamePayload struct {
	MailName string `json:"mail_name"`
}

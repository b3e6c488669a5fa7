package in

import "context"

// TransferWorker implements the Outbound Transfer Worker:
// the immediate single-mail path and the batched cron-drained path.
type TransferWorker interface {
	// TransferImmediate publishes a single mail at priority 3 if it
	// qualifies for immediate transfer; it is a no-op, not an error, when
	// the mail does not qualify.
	TransferImmediate(ctx context.Context, mailName string) error

	// TransferBatch drains up to maxBatchSize pending mails per
	// invocation, flipping Pending->Transferring->Transferred (or Failed
	// after 3 retries). It returns the count transferred.
	TransferBatch(ctx context.Context, maxBatchSize int) (int, error)

	// RetryFailedMail re-publishes a mail currently in terminal Failed
	// status; it is the explicit operator action required in
	// place of automatic retry past the 3-attempt cap.
	RetryFailedMail(ctx context.Context, mailName string) error
}

// IntakeWorker implements the Inbound Intake Worker:
// draining INCOMING_MAIL_QUEUE and routing each message.
type IntakeWorker interface {
	// DrainOnce processes every currently-queued inbound message
	// (basic-get drain-until-empty) and returns how many it handled.
	DrainOnce(ctx context.Context) (int, error)
}

// Reconciler implements the Status Reconciler: folding
// per-recipient delivery hooks into mail-level status.
type Reconciler interface {
	// DrainOnce processes every currently-queued status-hook message and
	// returns how many it handled.
	DrainOnce(ctx context.Context) (int, error)
}

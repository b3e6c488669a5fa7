package in

import (
	"context"

	"github.com/frappe/mail/core/domain"
)

// AddressInput is one recipient as submitted by a caller, before
// validation/dedupe.
type AddressInput struct {
	Type        domain.RecipientType
	Email       string
	DisplayName string
}

// AttachmentInput is a caller-supplied attachment before it is persisted.
type AttachmentInput struct {
	FileName    string
	ContentType string
	Content     []byte
}

// Submission is the Outgoing Composer's input contract.
type Submission struct {
	Sender      string
	Recipients  []AddressInput
	Subject     string
	BodyHTML    string

	ReplyTo           string
	InReplyToMailType string
	InReplyToMailName string

	CustomHeaders []domain.CustomHeader
	Attachments   []AttachmentInput

	// RawMessage, if set, overrides every structured field above.
	RawMessage string

	ViaAPI       bool
	IsNewsletter bool
	SendInBatch  bool
}

// Composer turns a Submission into a persisted, DKIM-signed OutgoingMail
// with docstatus=1, status=Pending.
type Composer interface {
	Compose(ctx context.Context, actor domain.Context, sub Submission) (*domain.OutgoingMail, error)
}

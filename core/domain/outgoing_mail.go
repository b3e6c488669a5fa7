package domain

import (
	"fmt"
	"strings"
	"time"
)

// DocStatus mirrors the submittable-document lifecycle the source system
// models natively; Go has no equivalent, so it is carried as an explicit
// enum instead of an implicit framework concept.
type DocStatus int

const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

type Folder string

const (
	FolderDrafts Folder = "Drafts"
	FolderSent   Folder = "Sent"
)

// OutgoingStatus is the mail-level delivery status. It is a pure function
// of the child MailRecipient statuses — see DeriveOutgoingStatus.
type OutgoingStatus string

const (
	StatusPending       OutgoingStatus = "Pending"
	StatusTransferring  OutgoingStatus = "Transferring"
	StatusTransferred   OutgoingStatus = "Transferred"
	StatusQueued        OutgoingStatus = "Queued"
	StatusSent          OutgoingStatus = "Sent"
	StatusPartiallySent OutgoingStatus = "Partially Sent"
	StatusDeferred      OutgoingStatus = "Deferred"
	StatusBounced       OutgoingStatus = "Bounced"
	StatusFailed        OutgoingStatus = "Failed"
)

type RecipientType string

const (
	RecipientTo  RecipientType = "To"
	RecipientCc  RecipientType = "Cc"
	RecipientBcc RecipientType = "Bcc"
)

// RecipientStatus is the per-recipient delivery state folded in by the
// Status Reconciler.
type RecipientStatus string

const (
	RecipientStatusPending  RecipientStatus = "Pending"
	RecipientStatusSent     RecipientStatus = "Sent"
	RecipientStatusDeferred RecipientStatus = "Deferred"
	RecipientStatusBounced  RecipientStatus = "Bounced"
)

// recipientRank orders statuses for the monotonicity guard: a reconciler
// update may only move a recipient forward, never backward (Sent is
// terminal once reached; Deferred -> Sent is allowed, Sent -> Deferred is
// not).
var recipientRank = map[RecipientStatus]int{
	RecipientStatusPending:  0,
	RecipientStatusDeferred: 1,
	RecipientStatusBounced:  1,
	RecipientStatusSent:     2,
}

// CanTransition reports whether moving from `from` to `to` is a forward
// (or lateral) move under the monotonicity rule below. This was an open
// question in the distillation this was built from — the source reconciler
// overwrites unconditionally. We implement the prescribed monotonic
// behaviour: a status update is applied unless it would regress a
// recipient out of the terminal Sent state.
func CanTransition(from, to RecipientStatus) bool {
	if from == RecipientStatusSent && to != RecipientStatusSent {
		return false
	}
	return recipientRank[to] >= recipientRank[from] || to == from
}

// MailRecipient is one destination address on an OutgoingMail.
type MailRecipient struct {
	ID          int64           `json:"id"`
	OutgoingMail string         `json:"outgoing_mail"`
	Type        RecipientType   `json:"type"`
	Email       string          `json:"email"`
	DisplayName string          `json:"display_name,omitempty"`
	Status      RecipientStatus `json:"status"`
	Retries     int             `json:"retries"`
	ActionAt    *time.Time      `json:"action_at,omitempty"`
	ActionAfter *float64        `json:"action_after,omitempty"` // seconds
	Details     map[string]any  `json:"details,omitempty"`
}

// Key returns the (type, email) uniqueness key a recipient list enforces,
// lower-cased so dedupe is case-insensitive on the address.
func (r MailRecipient) Key() string {
	return string(r.Type) + ":" + strings.ToLower(r.Email)
}

// CustomHeader is a caller-supplied header. Keys must start with "X-" and
// may not start with "X-FM-" (reserved for internal correlation headers).
type CustomHeader struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ValidCustomHeaderKey reports whether key is an allowed custom header
// name.
func ValidCustomHeaderKey(key string) bool {
	upper := strings.ToUpper(key)
	return strings.HasPrefix(upper, "X-") && !strings.HasPrefix(upper, "X-FM-")
}

// Attachment is a file reference, never an inlined blob.
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	IsPrivate   bool   `json:"is_private"`
	Inline      bool   `json:"inline"`
	ContentID   string `json:"content_id,omitempty"`
	StorageRef  string `json:"storage_ref"` // document-store key
}

// OutgoingMail is the aggregate root for a submitted message, identified
// by a UUIDv7.
type OutgoingMail struct {
	Name        string `json:"name"` // uuidv7
	Sender      string `json:"sender"`
	DisplayName string `json:"display_name"`
	Subject     string `json:"subject"`
	BodyHTML    string `json:"body_html"`
	BodyPlain   string `json:"body_plain"`
	ReplyTo     string `json:"reply_to,omitempty"`

	InReplyTo         string `json:"in_reply_to,omitempty"` // RFC Message-ID
	InReplyToMailType string `json:"in_reply_to_mail_type,omitempty"`
	InReplyToMailName string `json:"in_reply_to_mail_name,omitempty"`

	MessageID   string `json:"message_id"`
	TrackingID  string `json:"tracking_id,omitempty"`
	Message     string `json:"message,omitempty"` // signed RFC 5322 bytes as text
	MessageSize int    `json:"message_size"`

	CreatedAt      time.Time  `json:"created_at"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	SubmittedAfter *float64   `json:"submitted_after,omitempty"`
	TransferredAt  *time.Time `json:"transferred_at,omitempty"`
	TransferredAfter *float64 `json:"transferred_after,omitempty"`

	ViaAPI       bool `json:"via_api"`
	IsNewsletter bool `json:"is_newsletter"`
	SendInBatch  bool `json:"send_in_batch"`

	Folder    Folder         `json:"folder"`
	Agent     string         `json:"agent,omitempty"`
	QueueID   string         `json:"queue_id,omitempty"`
	Status    OutgoingStatus `json:"status"`
	ErrorLog  string         `json:"error_log,omitempty"`
	DocStatus DocStatus      `json:"docstatus"`

	FirstOpenedAt *time.Time `json:"first_opened_at,omitempty"`
	LastOpenedAt  *time.Time `json:"last_opened_at,omitempty"`
	OpenCount     int        `json:"open_count"`

	Recipients    []MailRecipient `json:"recipients,omitempty"`
	CustomHeaders []CustomHeader  `json:"custom_headers,omitempty"`
	Attachments   []Attachment    `json:"attachments,omitempty"`
}

// DeriveOutgoingStatus recomputes the mail-level status from its
// recipients' statuses. It is a pure function: it must
// be recomputed after every per-recipient update, in the same
// transaction as that update.
func DeriveOutgoingStatus(recipients []MailRecipient) OutgoingStatus {
	if len(recipients) == 0 {
		return StatusSent
	}
	var sent, deferred, total int
	total = len(recipients)
	for _, r := range recipients {
		switch r.Status {
		case RecipientStatusSent:
			sent++
		case RecipientStatusDeferred:
			deferred++
		}
	}
	switch {
	case sent == total:
		return StatusSent
	case sent > 0:
		return StatusPartiallySent
	case deferred == total:
		return StatusDeferred
	default:
		return StatusBounced
	}
}

// TransferPriority computes the broker priority for the batched transfer
// path: newsletter=0, non-root domain=1, root domain=2.
// The immediate API path always uses priority 3 regardless of domain.
func TransferPriority(isNewsletter, isRootDomain bool) uint8 {
	switch {
	case isNewsletter:
		return 0
	case isRootDomain:
		return 2
	default:
		return 1
	}
}

// EligibleForImmediateTransfer reports whether a mail qualifies for the
// immediate (priority 3) transfer path instead of waiting for the batch
// cron.
func (m OutgoingMail) EligibleForImmediateTransfer(now time.Time) bool {
	if !m.ViaAPI || m.IsNewsletter {
		return false
	}
	if m.SubmittedAt == nil {
		return false
	}
	return now.Sub(*m.SubmittedAt) <= 5*time.Second
}

// UndeliverableSubject formats the subject line for an auto-generated
// bounce notification.
func UndeliverableSubject(original string) string {
	return fmt.Sprintf("Undeliverable: %s", original)
}

package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/mail"
	"regexp"
	"strings"
	"time"

	emmail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/frappe/mail/core/domain"
	in "github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/logger"
)

// Limits bundles the Composer's configured thresholds.
type Limits struct {
	MaxRecipients               int
	MaxHeaders                  int
	MaxMessageSize              int
	MaxAttachments              int
	MaxAttachmentSize           int
	MaxTotalAttachmentsSize     int
}

// Composer implements the Outgoing Composer, grounded on
// outgoing_mail.py's validate()/on_submit() pipeline.
type Composer struct {
	mailboxes   out.MailboxRepository
	domains     out.MailDomainRepository
	outgoing    out.OutgoingMailRepository
	incoming    out.IncomingMailRepository
	contacts    out.MailContactRepository
	attachments out.AttachmentStore
	signer      *Signer
	limits      Limits
	now         func() time.Time
	newID       func() string
}

func NewComposer(
	mailboxes out.MailboxRepository,
	domains out.MailDomainRepository,
	outgoing out.OutgoingMailRepository,
	incoming out.IncomingMailRepository,
	contacts out.MailContactRepository,
	attachments out.AttachmentStore,
	signer *Signer,
	limits Limits,
) *Composer {
	return &Composer{
		mailboxes: mailboxes, domains: domains, outgoing: outgoing, incoming: incoming,
		contacts: contacts, attachments: attachments, signer: signer, limits: limits,
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func validEmail(addr string) bool {
	_, err := mail.ParseAddress(addr)
	return err == nil && emailRe.MatchString(addr)
}

// Compose implements in.Composer.
func (c *Composer) Compose(ctx context.Context, actor domain.Context, sub in.Submission) (*domain.OutgoingMail, error) {
	senderMbox, err := c.mailboxes.Get(ctx, sub.Sender)
	if err != nil {
		return nil, err
	}
	if senderMbox == nil {
		return nil, apperr.NotFound("mailbox")
	}
	if !actor.IsSystemManager() && !strings.EqualFold(senderMbox.User, actor.User) {
		return nil, apperr.NotMailboxOwner(actor.User)
	}
	if !senderMbox.Enabled {
		return nil, apperr.MailboxDisabled(senderMbox.Email)
	}
	if !senderMbox.Outgoing {
		return nil, apperr.MailboxNotOutgoing(senderMbox.Email)
	}

	dom, err := c.domains.Get(ctx, senderMbox.DomainName)
	if err != nil {
		return nil, err
	}
	if dom == nil || !dom.Enabled {
		return nil, apperr.DomainDisabled(senderMbox.DomainName)
	}
	if !actor.IsSystemManager() && !dom.IsVerified {
		return nil, apperr.DomainUnverified(dom.Name)
	}

	recipients, err := c.buildRecipients(sub.Recipients)
	if err != nil {
		return nil, err
	}
	if len(recipients) > c.limits.MaxRecipients {
		return nil, apperr.RecipientLimitExceeded(c.limits.MaxRecipients)
	}

	if err := validateCustomHeaders(sub.CustomHeaders, c.limits.MaxHeaders); err != nil {
		return nil, err
	}

	if len(sub.Attachments) > c.limits.MaxAttachments {
		return nil, apperr.ValidationFailed(fmt.Sprintf("too many attachments, limit is %d", c.limits.MaxAttachments))
	}

	totalAttachSize := 0
	for _, a := range sub.Attachments {
		if len(a.Content) > c.limits.MaxAttachmentSize {
			return nil, apperr.AttachmentTooLarge(a.FileName, len(a.Content), c.limits.MaxAttachmentSize)
		}
		totalAttachSize += len(a.Content)
	}
	if totalAttachSize > c.limits.MaxTotalAttachmentsSize {
		return nil, apperr.TotalAttachmentsTooLarge(totalAttachSize, c.limits.MaxTotalAttachmentsSize)
	}

	now := c.now()
	name := c.newID()

	om := &domain.OutgoingMail{
		Name:         name,
		Sender:       senderMbox.Email,
		DisplayName:  senderMbox.DisplayName,
		Subject:      sub.Subject,
		BodyHTML:     sub.BodyHTML,
		BodyPlain:    htmlToText(sub.BodyHTML),
		Recipients:   recipients,
		CustomHeaders: sub.CustomHeaders,
		ViaAPI:       sub.ViaAPI,
		IsNewsletter: sub.IsNewsletter,
		SendInBatch:  sub.SendInBatch,
		Folder:       domain.FolderDrafts,
		Status:       domain.StatusPending,
		DocStatus:    domain.DocStatusDraft,
	}

	if senderMbox.OverrideReplyTo {
		om.ReplyTo = senderMbox.ReplyTo
	} else if sub.ReplyTo != "" {
		om.ReplyTo = sub.ReplyTo
	}

	if sub.InReplyToMailName != "" {
		priorMessageID, err := c.resolveThread(ctx, sub.InReplyToMailType, sub.InReplyToMailName)
		if err != nil {
			return nil, err
		}
		om.InReplyTo = priorMessageID
		om.InReplyToMailType = sub.InReplyToMailType
		om.InReplyToMailName = sub.InReplyToMailName
	}

	if senderMbox.TrackOutgoingMail {
		om.TrackingID = c.newID()
	}

	if err := c.persistAttachments(ctx, om, sub.Attachments); err != nil {
		return nil, err
	}

	raw, messageID, err := c.build(om, sub, senderMbox, now)
	if err != nil {
		return nil, err
	}

	if len(raw) > c.limits.MaxMessageSize {
		return nil, apperr.MessageTooLarge(len(raw), c.limits.MaxMessageSize)
	}

	signed, err := c.signer.Sign(ctx, senderMbox.DomainName, raw, false)
	if err != nil {
		return nil, err
	}

	om.MessageID = messageID
	om.Message = string(signed)
	om.MessageSize = len(signed)
	om.CreatedAt = now
	om.SubmittedAt = &now
	submittedAfter := 0.0
	om.SubmittedAfter = &submittedAfter
	om.Folder = domain.FolderSent
	om.DocStatus = domain.DocStatusSubmitted

	if err := c.outgoing.Create(ctx, om); err != nil {
		return nil, err
	}

	if senderMbox.CreateMailContact {
		c.upsertContacts(ctx, senderMbox.User, recipients)
	}

	logger.WithField("mail", om.Name).Info("outgoing mail composed")
	return om, nil
}

func (c *Composer) buildRecipients(inputs []in.AddressInput) ([]domain.MailRecipient, error) {
	seen := make(map[string]bool)
	out := make([]domain.MailRecipient, 0, len(inputs))
	for _, a := range inputs {
		lower := strings.ToLower(a.Email)
		if !validEmail(lower) {
			return nil, apperr.InvalidEmail(a.Email)
		}
		key := string(a.Type) + ":" + lower
		if seen[key] {
			return nil, apperr.DuplicateRecipient(a.Email)
		}
		seen[key] = true
		out = append(out, domain.MailRecipient{
			Type: a.Type, Email: lower, DisplayName: a.DisplayName,
			Status: domain.RecipientStatusPending,
		})
	}
	return out, nil
}

func validateCustomHeaders(headers []domain.CustomHeader, max int) error {
	if len(headers) > max {
		return apperr.ValidationFailed(fmt.Sprintf("too many custom headers, limit is %d", max))
	}
	seen := make(map[string]bool)
	for _, h := range headers {
		if !domain.ValidCustomHeaderKey(h.Key) {
			return apperr.ForbiddenHeader(h.Key)
		}
		if seen[h.Key] {
			return apperr.ForbiddenHeader(h.Key)
		}
		seen[h.Key] = true
	}
	return nil
}

// resolveThread looks up the prior mail's Message-ID for In-Reply-To
// threading. The internal pointer may reference either
// an OutgoingMail or an IncomingMail (the "two independent foreign keys"
// design: a reply can chain off something this platform sent or received).
func (c *Composer) resolveThread(ctx context.Context, mailType, mailName string) (string, error) {
	switch mailType {
	case "Outgoing Mail":
		m, err := c.outgoing.Get(ctx, mailName)
		if err != nil || m == nil {
			return "", apperr.NotFound("in_reply_to_mail")
		}
		return m.MessageID, nil
	case "Incoming Mail":
		m, err := c.incoming.Get(ctx, mailName)
		if err != nil || m == nil {
			return "", apperr.NotFound("in_reply_to_mail")
		}
		return m.MessageID, nil
	default:
		return "", apperr.InvalidInput("in_reply_to_mail_type", "must be 'Outgoing Mail' or 'Incoming Mail'")
	}
}

func (c *Composer) persistAttachments(ctx context.Context, om *domain.OutgoingMail, inputs []in.AttachmentInput) error {
	for _, a := range inputs {
		id := c.newID()
		ref, err := c.attachments.Put(ctx, id, a.ContentType, a.Content)
		if err != nil {
			return err
		}
		att := domain.Attachment{
			ID: id, FileName: a.FileName, ContentType: a.ContentType,
			Size: len(a.Content), IsPrivate: true, StorageRef: ref,
		}
		if strings.Contains(om.BodyHTML, "attachment://"+id) {
			att.Inline = true
			att.ContentID = id
			om.BodyHTML = strings.ReplaceAll(om.BodyHTML, "attachment://"+id, "cid:"+id)
		}
		om.Attachments = append(om.Attachments, att)
	}
	return nil
}

func (c *Composer) upsertContacts(ctx context.Context, user string, recipients []domain.MailRecipient) {
	for _, r := range recipients {
		err := c.contacts.Upsert(ctx, &domain.MailContact{
			User: user, Email: r.Email, DisplayName: r.DisplayName,
		})
		if err != nil {
			logger.WithError(err).Warn("failed to upsert mail contact for %s", r.Email)
		}
	}
}

// build assembles the MIME tree: From/To/Cc/Subject/Date/Message-ID/
// In-Reply-To/Reply-To headers, the X-FM-OM correlation header, custom
// headers, a multipart/alternative body (with tracking pixel injected
// before signing), and attachments.
func (c *Composer) build(om *domain.OutgoingMail, sub in.Submission, mbox *domain.Mailbox, now time.Time) (raw []byte, messageID string, err error) {
	if sub.RawMessage != "" {
		return c.buildFromRaw(om, sub, mbox, now)
	}

	messageID = fmt.Sprintf("<%s@%s>", c.newID(), mbox.DomainPart())

	var headers emmail.Header
	headers.SetDate(now)
	headers.SetAddressList("From", []*emmail.Address{{Name: om.DisplayName, Address: om.Sender}})
	headers.SetAddressList("To", recipientAddresses(om.Recipients, domain.RecipientTo))
	if cc := recipientAddresses(om.Recipients, domain.RecipientCc); len(cc) > 0 {
		headers.SetAddressList("Cc", cc)
	}
	headers.SetSubject(om.Subject)
	headers.SetMessageID(strings.Trim(messageID, "<>"))
	if om.ReplyTo != "" {
		headers.SetAddressList("Reply-To", []*emmail.Address{{Address: om.ReplyTo}})
	}
	if om.InReplyTo != "" {
		headers.Set("In-Reply-To", om.InReplyTo)
	}
	headers.Set("X-FM-OM", om.Name)
	for _, h := range om.CustomHeaders {
		headers.Set(h.Key, h.Value)
	}

	body := om.BodyHTML
	if mbox.TrackOutgoingMail && om.TrackingID != "" {
		body = injectTrackingPixel(body, om.TrackingID)
	}

	var buf bytes.Buffer
	mw, err := emmail.CreateWriter(&buf, headers)
	if err != nil {
		return nil, "", err
	}

	if len(om.Attachments) == 0 {
		if err := writeAlternative(mw, om.BodyPlain, body); err != nil {
			return nil, "", err
		}
	} else {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, "", err
		}
		if err := writeAlternative(iw, om.BodyPlain, body); err != nil {
			return nil, "", err
		}
		iw.Close()
		for i := range om.Attachments {
			if err := writeAttachment(mw, &om.Attachments[i], sub.Attachments[i].Content, mbox); err != nil {
				return nil, "", err
			}
		}
	}
	mw.Close()

	return buf.Bytes(), messageID, nil
}

func (c *Composer) buildFromRaw(om *domain.OutgoingMail, sub in.Submission, mbox *domain.Mailbox, now time.Time) ([]byte, string, error) {
	p := NewParser()
	parsed, err := p.Parse([]byte(sub.RawMessage))
	if err != nil {
		return nil, "", err
	}
	if err := ValidateDateNotFuture(parsed.Date, now); err != nil {
		return nil, "", err
	}
	om.BodyHTML = parsed.BodyHTML
	om.BodyPlain = parsed.BodyPlain

	messageID := parsed.MessageID
	if messageID == "" {
		messageID = fmt.Sprintf("<%s@%s>", c.newID(), mbox.DomainPart())
	}

	raw := []byte(sub.RawMessage)
	raw = rewriteFromHeader(raw, om.DisplayName, om.Sender)
	if mbox.OverrideReplyTo {
		raw = rewriteHeader(raw, "Reply-To", mbox.ReplyTo)
	}
	return raw, messageID, nil
}

func recipientAddresses(recipients []domain.MailRecipient, t domain.RecipientType) []*emmail.Address {
	var out []*emmail.Address
	for _, r := range recipients {
		if r.Type == t {
			out = append(out, &emmail.Address{Name: r.DisplayName, Address: r.Email})
		}
	}
	return out
}

func writeAlternative(mw interface {
	CreatePart(h emmail.InlineHeader) (io.WriteCloser, error)
}, plain, html string) error {
	var ph emmail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := mw.CreatePart(ph)
	if err != nil {
		return err
	}
	io.WriteString(pw, plain)
	pw.Close()

	var hh emmail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := mw.CreatePart(hh)
	if err != nil {
		return err
	}
	io.WriteString(hw, html)
	hw.Close()
	return nil
}

func writeAttachment(mw *emmail.Writer, att *domain.Attachment, content []byte, mbox *domain.Mailbox) error {
	var ah emmail.AttachmentHeader
	ah.Set("Content-Type", att.ContentType)
	ah.SetFilename(att.FileName)
	if att.Inline {
		ah.Set("Content-Disposition", "inline")
		ah.Set("Content-ID", "<"+att.ContentID+">")
	}
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	defer aw.Close()
	_, err = aw.Write(content)
	return err
}

// injectTrackingPixel prepends the 1x1 open-tracking image, mutating HTML
// before DKIM signing so the signed body includes it (must
// not be re-injected on retries, enforced by TrackingID being set once in
// Compose, never on re-transfer).
func injectTrackingPixel(html, trackingID string) string {
	pixel := fmt.Sprintf(`<img src="/api/track/open?id=%s" width="1" height="1" style="display:none" alt="" />`, trackingID)
	return pixel + html
}

var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// htmlToText is a minimal HTML->text fallback for body_plain generation
// (plain text is generated via a simple HTML→text fallback).
func htmlToText(html string) string {
	text := htmlTagRe.ReplaceAllString(html, "")
	return strings.TrimSpace(text)
}

func rewriteFromHeader(raw []byte, displayName, sender string) []byte {
	return rewriteHeader(raw, "From", fmt.Sprintf("%s <%s>", displayName, sender))
}

var headerLineRe = func(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^` + regexp.QuoteMeta(name) + `:.*$`)
}

func rewriteHeader(raw []byte, name, value string) []byte {
	re := headerLineRe(name)
	replacement := name + ": " + value
	if re.Match(raw) {
		return re.ReplaceAll(raw, []byte(replacement))
	}
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	if headerEnd < 0 {
		headerEnd = bytes.Index(raw, []byte("\n\n"))
	}
	if headerEnd < 0 {
		return raw
	}
	var out bytes.Buffer
	out.Write(raw[:headerEnd])
	out.WriteString("\r\n" + replacement)
	out.Write(raw[headerEnd:])
	return out.Bytes()
}

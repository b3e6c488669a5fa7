package mail

import (
	"bytes"
	"context"
	"strings"
	"time"

	emmail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/frappe/mail/core/domain"
	in "github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/logger"
)

const incomingMailQueue = "INCOMING_MAIL_QUEUE"

// Intake implements the Inbound Intake Worker: draining the incoming
// queue, resolving each message's receiver (mailbox or alias fan-out),
// scoring it for spam, checking the sender IP group against the
// blocklist, and persisting the result, grounded on
// incoming_mail.py's process().
type Intake struct {
	parser      *Parser
	signer      *Signer
	mailboxes   out.MailboxRepository
	aliases     out.MailAliasRepository
	domains     out.MailDomainRepository
	incoming    out.IncomingMailRepository
	attachments out.AttachmentStore
	broker      out.BrokerClient
	spam        in.SpamGate
	blocklist   in.BlocklistGate

	spamDetectionEnabled     bool
	maxSpamScoreInbound      float64
	scanningMode             domain.ScanningMode
	hybridThreshold          float64
	sendNotificationOnReject bool

	now   func() time.Time
	newID func() string
}

func NewIntake(
	parser *Parser,
	signer *Signer,
	mailboxes out.MailboxRepository,
	aliases out.MailAliasRepository,
	domains out.MailDomainRepository,
	incoming out.IncomingMailRepository,
	attachments out.AttachmentStore,
	broker out.BrokerClient,
	spamGate in.SpamGate,
	blocklistGate in.BlocklistGate,
) *Intake {
	return &Intake{
		parser: parser, signer: signer, mailboxes: mailboxes, aliases: aliases,
		domains: domains, incoming: incoming, attachments: attachments, broker: broker,
		spam: spamGate, blocklist: blocklistGate,
		spamDetectionEnabled:     true,
		maxSpamScoreInbound:      5.0,
		scanningMode:             domain.ScanningModeHybrid,
		hybridThreshold:          5.0,
		sendNotificationOnReject: true,
		now:                      time.Now,
		newID:                    func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// DrainOnce empties the incoming queue via repeated non-blocking
// basic-get calls, processing each message until the queue reports
// empty.
func (w *Intake) DrainOnce(ctx context.Context) (int, error) {
	count := 0
	for {
		msg, ok, err := w.broker.BasicGet(ctx, incomingMailQueue, false)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		if err := w.process(ctx, msg.Body); err != nil {
			logger.WithError(err).Warn("failed to process incoming mail")
			w.broker.Nack(ctx, msg.DeliveryTag, true)
			continue
		}
		w.broker.Ack(ctx, msg.DeliveryTag)
		count++
	}
}

func (w *Intake) process(ctx context.Context, raw []byte) error {
	now := w.now()
	parsed, err := w.parser.Parse(raw)
	if err != nil {
		return err
	}

	destinations, err := w.resolveDestinations(ctx, parsed)
	if err != nil {
		return err
	}
	if len(destinations) == 0 {
		logger.Warn("incoming mail for %s has no deliverable destination", parsed.DeliveredTo)
		return w.reject(ctx, parsed, raw, now)
	}

	if w.blocklist != nil && parsed.FromIP != "" {
		entry, err := w.blocklist.Lookup(ctx, parsed.FromIP)
		if err == nil && entry != nil && entry.IsBlacklisted {
			logger.Warn("rejecting mail from blacklisted ip %s", parsed.FromIP)
			return nil
		}
	}

	var spamScore float64
	if w.spamDetectionEnabled && w.spam != nil {
		if log, err := w.spam.Scan(ctx, raw, w.scanningMode, w.hybridThreshold); err == nil {
			spamScore = log.SpamScore
		}
	}

	for _, receiver := range destinations {
		m := &domain.IncomingMail{
			Name:        w.newID(),
			Sender:      parsed.From.Address,
			DisplayName: parsed.From.Name,
			Subject:     parsed.Subject,
			BodyHTML:    parsed.BodyHTML,
			BodyPlain:   parsed.BodyPlain,
			MessageID:   parsed.MessageID,
			InReplyTo:   parsed.InReplyTo,
			Message:     string(raw),
			MessageSize: len(raw),
			Receiver:    receiver,
			FromIP:      parsed.FromIP,
			FromHost:    parsed.FromHost,
			CreatedAt:   now,
			SpamScore:   spamScore,
			SPF:         parsed.SPF,
			DKIM:        parsed.DKIM,
			DMARC:       parsed.DMARC,
			DocStatus:   domain.DocStatusSubmitted,
		}
		receivedAt := now
		m.ReceivedAt = &receivedAt
		processedAt := w.now()
		m.ProcessedAt = &processedAt
		m.Process(now, w.maxSpamScoreInbound, w.spamDetectionEnabled)

		if err := w.persistAttachments(ctx, m, parsed.Attachments); err != nil {
			return err
		}

		if err := w.incoming.Create(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// resolveDestinations expands the parsed To/Cc/Delivered-To addresses
// against enabled incoming mailboxes and alias fan-out, rejecting
// addresses whose domain is disabled or unknown.
func (w *Intake) resolveDestinations(ctx context.Context, parsed *ParsedMessage) ([]string, error) {
	var candidates []string
	if parsed.DeliveredTo != "" {
		candidates = append(candidates, parsed.DeliveredTo)
	}
	for _, a := range parsed.Recipients[domain.RecipientTo] {
		candidates = append(candidates, a.Address)
	}
	for _, a := range parsed.Recipients[domain.RecipientCc] {
		candidates = append(candidates, a.Address)
	}

	seen := make(map[string]bool)
	var out []string
	for _, addr := range candidates {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		dom, err := w.domains.Get(ctx, domainPart(addr))
		if err != nil || dom == nil || !dom.Enabled {
			continue
		}

		if mbox, err := w.mailboxes.Get(ctx, addr); err == nil && mbox != nil {
			if mbox.Enabled && mbox.Incoming {
				out = append(out, addr)
			}
			continue
		}

		if alias, err := w.aliases.Get(ctx, addr); err == nil && alias != nil && alias.Enabled {
			for _, dest := range alias.Mailboxes {
				if !seen[dest] {
					seen[dest] = true
					out = append(out, dest)
				}
			}
		}
	}
	return out, nil
}

func (w *Intake) persistAttachments(ctx context.Context, m *domain.IncomingMail, parsed []ParsedAttachment) error {
	for _, a := range parsed {
		id := w.newID()
		ref, err := w.attachments.Put(ctx, id, a.ContentType, a.Data)
		if err != nil {
			return err
		}
		m.Attachments = append(m.Attachments, domain.Attachment{
			ID: id, FileName: a.FileName, ContentType: a.ContentType,
			Size: len(a.Data), Inline: a.Inline, ContentID: a.ContentID, StorageRef: ref,
		})
	}
	return nil
}

// reject persists a rejected IncomingMail for a message with no
// deliverable destination and, if configured, fires a postmaster-signed
// undeliverable notice back to the sender.
func (w *Intake) reject(ctx context.Context, parsed *ParsedMessage, raw []byte, now time.Time) error {
	m := &domain.IncomingMail{
		Name:             w.newID(),
		Sender:           parsed.From.Address,
		DisplayName:      parsed.From.Name,
		Subject:          parsed.Subject,
		BodyHTML:         parsed.BodyHTML,
		BodyPlain:        parsed.BodyPlain,
		MessageID:        parsed.MessageID,
		InReplyTo:        parsed.InReplyTo,
		Message:          string(raw),
		MessageSize:      len(raw),
		Receiver:         parsed.DeliveredTo,
		FromIP:           parsed.FromIP,
		FromHost:         parsed.FromHost,
		CreatedAt:        now,
		SPF:              parsed.SPF,
		DKIM:             parsed.DKIM,
		DMARC:            parsed.DMARC,
		IsRejected:       true,
		RejectionMessage: domain.RejectionMessageAccessDenied,
		DocStatus:        domain.DocStatusSubmitted,
	}
	receivedAt := now
	m.ReceivedAt = &receivedAt
	processedAt := w.now()
	m.ProcessedAt = &processedAt
	m.Process(now, w.maxSpamScoreInbound, w.spamDetectionEnabled)

	if err := w.incoming.Create(ctx, m); err != nil {
		return err
	}

	if !w.sendNotificationOnReject {
		return nil
	}
	return w.bounce(ctx, parsed)
}

// bounce generates a postmaster-signed undeliverable notice back to the
// sender when no destination mailbox or alias accepted the message.
func (w *Intake) bounce(ctx context.Context, parsed *ParsedMessage) error {
	root, err := w.domains.RootDomain(ctx)
	if err != nil || root == nil || parsed.From.Address == "" {
		return nil
	}
	from := "postmaster@" + root.Name
	subject := domain.UndeliverableSubject(parsed.Subject)

	var headers emmail.Header
	headers.SetDate(w.now())
	headers.SetAddressList("From", []*emmail.Address{{Address: from}})
	headers.SetAddressList("To", []*emmail.Address{{Address: parsed.From.Address}})
	headers.SetSubject(subject)
	headers.Set("Auto-Submitted", "auto-replied")

	var buf bytes.Buffer
	mw, err := emmail.CreateWriter(&buf, headers)
	if err != nil {
		return err
	}
	var ph emmail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := mw.CreatePart(ph)
	if err == nil {
		pw.Write([]byte(domain.RejectionMessageAccessDenied))
		pw.Close()
	}
	mw.Close()

	signed, err := w.signer.Sign(ctx, root.Name, buf.Bytes(), true)
	if err != nil {
		return nil
	}
	return w.broker.Publish(ctx, "", outgoingMailQueue, signed, 3, true)
}

func domainPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return ""
}

// Package mail implements the core mail-flow engine: parsing, DKIM
// signing, composition, transfer, intake, reconciliation and sync cursor
// resolution for the mail flow.
package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"time"

	emmail "github.com/emersion/go-message/mail"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/pkg/apperr"
)

// Address is a parsed RFC 5322 addr-spec with optional display name.
type Address struct {
	Name    string
	Address string
}

// ParsedAttachment is one MIME part saved as an attachment during
// parsing, before it is handed to the document store.
type ParsedAttachment struct {
	FileName    string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

// ParsedMessage is the Message Parser's output.
type ParsedMessage struct {
	Subject     string
	From        Address
	ReplyTo     string
	MessageID   string
	InReplyTo   string
	Date        time.Time
	DeliveredTo string
	Recipients  map[domain.RecipientType][]Address

	FromIP   string
	FromHost string

	BodyHTML  string
	BodyPlain string

	SPF   domain.AuthResult
	DKIM  domain.AuthResult
	DMARC domain.AuthResult

	Attachments []ParsedAttachment
}

var receivedIPRe = regexp.MustCompile(`\[([0-9a-fA-F:.]+)\]`)
var receivedHostRe = regexp.MustCompile(`(?i)^from\s+(\S+)`)

// Parser parses raw RFC 5322 messages, grounded on
// mail/utils/email_parser.py's EmailParser.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse extracts headers, bodies, recipients, and attachments from a raw
// RFC 5322 message, recording each inline attachment's content id while
// walking MIME parts. It leaves cid: references in the bodies as they
// are; RewriteCIDs does that rewrite.
func (p *Parser) Parse(raw []byte) (*ParsedMessage, error) {
	mr, err := emmail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.CorruptMessage(err.Error())
	}
	defer mr.Close()

	h := mr.Header
	out := &ParsedMessage{
		Recipients: make(map[domain.RecipientType][]Address),
	}

	if subj, err := h.Subject(); err == nil {
		out.Subject = subj
	}
	if froms, err := h.AddressList("From"); err == nil && len(froms) > 0 {
		out.From = Address{Name: froms[0].Name, Address: froms[0].Address}
	}
	if replyTo, err := h.AddressList("Reply-To"); err == nil && len(replyTo) > 0 {
		out.ReplyTo = replyTo[0].Address
	}
	out.MessageID, _ = h.MessageID()
	out.InReplyTo = stripAngleBrackets(h.Get("In-Reply-To"))
	date, err := h.Date()
	if err != nil || date.IsZero() {
		return nil, apperr.InvalidDateFormat(h.Get("Date"))
	}
	out.Date = date
	out.DeliveredTo = h.Get("Delivered-To")

	for _, rt := range []struct {
		key string
		typ domain.RecipientType
	}{{"To", domain.RecipientTo}, {"Cc", domain.RecipientCc}, {"Bcc", domain.RecipientBcc}} {
		addrs, err := h.AddressList(rt.key)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			out.Recipients[rt.typ] = append(out.Recipients[rt.typ], Address{Name: a.Name, Address: a.Address})
		}
	}

	out.FromIP, out.FromHost = parseReceived(mr.Header.Get("Received"))
	out.SPF, out.DKIM, out.DMARC = parseAuthenticationResults(collectHeaderValues(mr.Header, "Authentication-Results"))

	contentIDToIndex := make(map[string]int)
	var htmlBuf, plainBuf strings.Builder

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.CorruptMessage(err.Error())
		}

		switch h := part.Header.(type) {
		case *emmail.InlineHeader:
			ct, params, _ := h.ContentType()
			data, _ := io.ReadAll(part.Body)
			switch {
			case strings.HasPrefix(ct, "text/html"):
				htmlBuf.Write(decodeCharset(data, params["charset"]))
			case strings.HasPrefix(ct, "text/plain"):
				plainBuf.Write(decodeCharset(data, params["charset"]))
			}
		case *emmail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, _ := io.ReadAll(part.Body)
			cid := stripAngleBrackets(h.Get("Content-ID"))
			disp, _, _ := h.ContentDisposition()
			att := ParsedAttachment{
				FileName:    filename,
				ContentType: ct,
				ContentID:   cid,
				Inline:      strings.EqualFold(disp, "inline") && cid != "",
				Data:        data,
			}
			out.Attachments = append(out.Attachments, att)
			if att.Inline {
				contentIDToIndex[cid] = len(out.Attachments) - 1
			}
		}
	}

	out.BodyHTML = htmlBuf.String()
	out.BodyPlain = plainBuf.String()
	return out, nil
}

// RewriteCIDs replaces cid:<id> occurrences in both bodies with the
// storage reference resolved by resolve(contentID), mirroring
// EmailParser.get_body()'s post-walk rewrite pass.
func (p *ParsedMessage) RewriteCIDs(resolve func(contentID string) (string, bool)) {
	cidRe := regexp.MustCompile(`cid:([^"'\s)]+)`)
	rewrite := func(body string) string {
		return cidRe.ReplaceAllStringFunc(body, func(match string) string {
			id := strings.TrimPrefix(match, "cid:")
			if ref, ok := resolve(id); ok {
				return ref
			}
			return match
		})
	}
	p.BodyHTML = rewrite(p.BodyHTML)
	p.BodyPlain = rewrite(p.BodyPlain)
}

func stripAngleBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return s
}

func decodeCharset(data []byte, charset string) []byte {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return data
	}
	decoded, err := mime.WordDecoder{}.DecodeHeader(string(data))
	if err != nil {
		return data
	}
	return []byte(decoded)
}

func parseReceived(received string) (ip, host string) {
	if received == "" {
		return "", ""
	}
	if m := receivedIPRe.FindStringSubmatch(received); len(m) == 2 {
		ip = m[1]
	}
	if m := receivedHostRe.FindStringSubmatch(strings.TrimSpace(received)); len(m) == 2 {
		host = m[1]
	}
	return ip, host
}

var checkPassRe = func(check string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)%s=pass`, regexp.QuoteMeta(check)))
}

// parseAuthenticationResults mirrors EmailParser.get_authentication_results:
// it tolerates both the multi-header layout (one Authentication-Results
// header per mechanism) and a single header with ';'-delimited clauses,
// defaulting absent mechanisms to {false, "Header not found."}.
func parseAuthenticationResults(headers []string) (spf, dkim, dmarc domain.AuthResult) {
	spf, dkim, dmarc = domain.DefaultAuthResult(), domain.DefaultAuthResult(), domain.DefaultAuthResult()
	if len(headers) == 0 {
		return
	}

	var clauses []string
	if len(headers) == 1 {
		for _, c := range strings.Split(headers[0], ";") {
			clauses = append(clauses, strings.TrimSpace(strings.NewReplacer("\n", " ", "\t", " ").Replace(c)))
		}
	} else {
		clauses = headers
	}

	full := strings.ToLower(strings.Join(clauses, "; "))
	if checkPassRe("spf").MatchString(full) {
		spf = domain.AuthResult{Pass: true, Description: headers[0]}
	}
	if checkPassRe("dkim").MatchString(full) {
		dkim = domain.AuthResult{Pass: true, Description: headers[0]}
	}
	if checkPassRe("dmarc").MatchString(full) {
		dmarc = domain.AuthResult{Pass: true, Description: headers[0]}
	}
	return
}

func collectHeaderValues(h emmail.Header, key string) []string {
	fields := h.FieldsByKey(key)
	var out []string
	for fields.Next() {
		out = append(out, fields.Value())
	}
	return out
}

// ParseSize returns the byte length of a raw message, used against
// max_message_size.
func ParseSize(raw []byte) int { return len(raw) }

// ValidateDateNotFuture enforces the FutureDated rule for a
// raw_message override.
func ValidateDateNotFuture(date time.Time, now time.Time) error {
	if date.After(now) {
		return apperr.FutureDated()
	}
	return nil
}

// ParseContentLength is a small helper used by the attachment path to
// size-check before persisting (kept separate from http so it has no
// framework dependency).
func ParseContentLength(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return n, true
}

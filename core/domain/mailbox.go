package domain

import (
	"strings"
	"time"
)

type MailboxStatus string

const (
	MailboxStatusActive   MailboxStatus = "Active"
	MailboxStatusInactive MailboxStatus = "Inactive"
)

// Mailbox is an address capable of sending and/or receiving mail on behalf
// of a user, scoped to a MailDomain.
type Mailbox struct {
	Email               string        `json:"email"` // primary key
	DomainName           string        `json:"domain_name"`
	User                 string        `json:"user"`
	Enabled              bool          `json:"enabled"`
	Incoming             bool          `json:"incoming"`
	Outgoing             bool          `json:"outgoing"`
	Status               MailboxStatus `json:"status"`
	IsDefault            bool          `json:"is_default"`
	DisplayName          string        `json:"display_name"`
	TrackOutgoingMail    bool          `json:"track_outgoing_mail"`
	CreateMailContact    bool          `json:"create_mail_contact"`
	OverrideDisplayName  bool          `json:"override_display_name"`
	OverrideReplyTo      bool          `json:"override_reply_to"`
	ReplyTo              string        `json:"reply_to"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// DomainPart returns the part of Email after the last '@'.
func (m Mailbox) DomainPart() string {
	if i := strings.LastIndexByte(m.Email, '@'); i >= 0 {
		return m.Email[i+1:]
	}
	return ""
}

// Valid reports whether the mailbox's address domain matches DomainName,
// the invariant that an outgoing mailbox always belongs to a domain.
func (m Mailbox) Valid() bool {
	return strings.EqualFold(m.DomainPart(), m.DomainName)
}

// MailAlias expands to zero or more destination mailboxes at intake time.
type MailAlias struct {
	Alias      string    `json:"alias"` // email, primary key
	DomainName string    `json:"domain_name"`
	Enabled    bool      `json:"enabled"`
	Mailboxes  []string  `json:"mailboxes"` // destination mailbox emails
	CreatedAt  time.Time `json:"created_at"`
}

// ContainsOwnAddress reports whether the alias expands to itself, which
// an alias is never allowed to include its own address among its members.
func (a MailAlias) ContainsOwnAddress() bool {
	for _, mbox := range a.Mailboxes {
		if strings.EqualFold(mbox, a.Alias) {
			return true
		}
	}
	return false
}

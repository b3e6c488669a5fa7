package domain

import "time"

// MailSyncHistory is a resumable cursor keyed by (source, user, mailbox),
// lazily created on first pull for that triple.
type MailSyncHistory struct {
	ID             int64      `json:"id"`
	Source         string     `json:"source"`
	User           string     `json:"user"`
	Mailbox        string     `json:"mailbox"`
	LastSyncedAt   time.Time  `json:"last_synced_at"`
	LastSyncedMail *string    `json:"last_synced_mail,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

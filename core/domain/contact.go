package domain

import "time"

// MailContact is auto-upserted when a sending mailbox opts into contact
// tracking.
type MailContact struct {
	ID          int64     `json:"id"`
	User        string    `json:"user"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

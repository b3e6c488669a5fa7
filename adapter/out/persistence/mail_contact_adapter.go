package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/frappe/mail/core/domain"
)

// MailContactAdapter implements out.MailContactRepository.
type MailContactAdapter struct {
	db *sqlx.DB
}

func NewMailContactAdapter(db *sqlx.DB) *MailContactAdapter {
	return &MailContactAdapter{db: db}
}

// Upsert inserts a contact the first time a (user, email) pair is seen
// and otherwise only refreshes the display name, mirroring how sending
// a mail to a new address auto-creates a contact without clobbering one
// a user has since edited by hand.
func (a *MailContactAdapter) Upsert(ctx context.Context, c *domain.MailContact) error {
	query := `
		INSERT INTO mail_contacts (user_id, email, display_name)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (user_id, email) DO UPDATE SET
			display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), mail_contacts.display_name),
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	return a.db.QueryRowxContext(ctx, query, c.User, c.Email, c.DisplayName).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

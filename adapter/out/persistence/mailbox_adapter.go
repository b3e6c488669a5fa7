package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/frappe/mail/core/domain"
)

// MailboxAdapter implements out.MailboxRepository and out.MailAliasRepository.
type MailboxAdapter struct {
	db *sqlx.DB
}

func NewMailboxAdapter(db *sqlx.DB) *MailboxAdapter {
	return &MailboxAdapter{db: db}
}

type mailboxRow struct {
	Email               string    `db:"email"`
	DomainName          string    `db:"domain_name"`
	User                string    `db:"user"`
	Enabled             bool      `db:"enabled"`
	Incoming            bool      `db:"incoming"`
	Outgoing            bool      `db:"outgoing"`
	Status              string    `db:"status"`
	IsDefault           bool      `db:"is_default"`
	DisplayName         string    `db:"display_name"`
	TrackOutgoingMail   bool      `db:"track_outgoing_mail"`
	CreateMailContact   bool      `db:"create_mail_contact"`
	OverrideDisplayName bool      `db:"override_display_name"`
	OverrideReplyTo     bool      `db:"override_reply_to"`
	ReplyTo             string    `db:"reply_to"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r *mailboxRow) toDomain() *domain.Mailbox {
	return &domain.Mailbox{
		Email: r.Email, DomainName: r.DomainName, User: r.User,
		Enabled: r.Enabled, Incoming: r.Incoming, Outgoing: r.Outgoing,
		Status: domain.MailboxStatus(r.Status), IsDefault: r.IsDefault,
		DisplayName: r.DisplayName, TrackOutgoingMail: r.TrackOutgoingMail,
		CreateMailContact: r.CreateMailContact, OverrideDisplayName: r.OverrideDisplayName,
		OverrideReplyTo: r.OverrideReplyTo, ReplyTo: r.ReplyTo,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (a *MailboxAdapter) Get(ctx context.Context, email string) (*domain.Mailbox, error) {
	var row mailboxRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM mailboxes WHERE email = $1`, email).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (a *MailboxAdapter) ListByUser(ctx context.Context, user string) ([]domain.Mailbox, error) {
	rows, err := a.db.QueryxContext(ctx, `SELECT * FROM mailboxes WHERE "user" = $1 ORDER BY is_default DESC, email ASC`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Mailbox
	for rows.Next() {
		var row mailboxRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, *row.toDomain())
	}
	return result, nil
}

func (a *MailboxAdapter) Create(ctx context.Context, m *domain.Mailbox) error {
	query := `
		INSERT INTO mailboxes (
			email, domain_name, "user", enabled, incoming, outgoing, status,
			is_default, display_name, track_outgoing_mail, create_mail_contact,
			override_display_name, override_reply_to, reply_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	return a.db.QueryRowxContext(ctx, query,
		m.Email, m.DomainName, m.User, m.Enabled, m.Incoming, m.Outgoing, m.Status,
		m.IsDefault, m.DisplayName, m.TrackOutgoingMail, m.CreateMailContact,
		m.OverrideDisplayName, m.OverrideReplyTo, m.ReplyTo,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (a *MailboxAdapter) Update(ctx context.Context, m *domain.Mailbox) error {
	query := `
		UPDATE mailboxes SET
			enabled = $1, incoming = $2, outgoing = $3, status = $4,
			is_default = $5, display_name = $6, track_outgoing_mail = $7,
			create_mail_contact = $8, override_display_name = $9,
			override_reply_to = $10, reply_to = $11, updated_at = NOW()
		WHERE email = $12
	`
	result, err := a.db.ExecContext(ctx, query,
		m.Enabled, m.Incoming, m.Outgoing, m.Status, m.IsDefault, m.DisplayName,
		m.TrackOutgoingMail, m.CreateMailContact, m.OverrideDisplayName,
		m.OverrideReplyTo, m.ReplyTo, m.Email,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("mailbox not found")
	}
	return nil
}

// =============================================================================
// MailAliasRepository
// =============================================================================

// AliasAdapter implements out.MailAliasRepository. Split from
// MailboxAdapter because both repositories define a Get method with a
// different signature on the same conceptual table family.
type AliasAdapter struct {
	db *sqlx.DB
}

func NewAliasAdapter(db *sqlx.DB) *AliasAdapter {
	return &AliasAdapter{db: db}
}

type mailAliasRow struct {
	Alias      string         `db:"alias"`
	DomainName string         `db:"domain_name"`
	Enabled    bool           `db:"enabled"`
	Mailboxes  pq.StringArray `db:"mailboxes"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (a *AliasAdapter) Get(ctx context.Context, alias string) (*domain.MailAlias, error) {
	var row mailAliasRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM mail_aliases WHERE alias = $1`, alias).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &domain.MailAlias{
		Alias: row.Alias, DomainName: row.DomainName, Enabled: row.Enabled,
		Mailboxes: []string(row.Mailboxes), CreatedAt: row.CreatedAt,
	}, nil
}

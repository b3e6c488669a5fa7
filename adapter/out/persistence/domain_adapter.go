// Package persistence provides PostgreSQL adapters implementing the
// outbound repository ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/pkg/crypto"
)

// DomainAdapter implements out.MailDomainRepository and out.DKIMKeyRepository.
type DomainAdapter struct {
	db *sqlx.DB
}

func NewDomainAdapter(db *sqlx.DB) *DomainAdapter {
	return &DomainAdapter{db: db}
}

type mailDomainRow struct {
	Name                string         `db:"name"`
	Enabled             bool           `db:"enabled"`
	IsVerified          bool           `db:"is_verified"`
	IsRootDomain        bool           `db:"is_root_domain"`
	DKIMKeySize         int            `db:"dkim_key_size"`
	NewsletterRetention int            `db:"newsletter_retention"`
	OutgoingAgent       sql.NullString `db:"outgoing_agent"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r *mailDomainRow) toDomain() *domain.MailDomain {
	d := &domain.MailDomain{
		Name: r.Name, Enabled: r.Enabled, IsVerified: r.IsVerified,
		IsRootDomain: r.IsRootDomain, DKIMKeySize: r.DKIMKeySize,
		NewsletterRetention: r.NewsletterRetention,
		CreatedAt:           r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.OutgoingAgent.Valid {
		d.OutgoingAgent = &r.OutgoingAgent.String
	}
	return d
}

func (a *DomainAdapter) Get(ctx context.Context, name string) (*domain.MailDomain, error) {
	var row mailDomainRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM mail_domains WHERE name = $1`, name).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (a *DomainAdapter) Create(ctx context.Context, d *domain.MailDomain) error {
	query := `
		INSERT INTO mail_domains (
			name, enabled, is_verified, is_root_domain, dkim_key_size,
			newsletter_retention, outgoing_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	return a.db.QueryRowxContext(ctx, query,
		d.Name, d.Enabled, d.IsVerified, d.IsRootDomain, d.DKIMKeySize,
		d.NewsletterRetention, d.OutgoingAgent,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (a *DomainAdapter) Update(ctx context.Context, d *domain.MailDomain) error {
	query := `
		UPDATE mail_domains SET
			enabled = $1, is_verified = $2, is_root_domain = $3,
			dkim_key_size = $4, newsletter_retention = $5,
			outgoing_agent = $6, updated_at = NOW()
		WHERE name = $7
	`
	result, err := a.db.ExecContext(ctx, query,
		d.Enabled, d.IsVerified, d.IsRootDomain, d.DKIMKeySize,
		d.NewsletterRetention, d.OutgoingAgent, d.Name,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("mail domain not found")
	}
	return nil
}

func (a *DomainAdapter) RootDomain(ctx context.Context) (*domain.MailDomain, error) {
	var row mailDomainRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM mail_domains WHERE is_root_domain = true LIMIT 1`).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// =============================================================================
// DKIMKeyRepository
// =============================================================================

// DKIMAdapter implements out.DKIMKeyRepository. Kept as its own type,
// rather than folded into DomainAdapter, since both repositories define a
// Create method and Go methods can't be overloaded on one receiver.
type DKIMAdapter struct {
	db *sqlx.DB
}

func NewDKIMAdapter(db *sqlx.DB) *DKIMAdapter {
	return &DKIMAdapter{db: db}
}

type dkimKeyRow struct {
	ID         int64     `db:"id"`
	Domain     string    `db:"domain"`
	Selector   string    `db:"selector"`
	PrivateKey string    `db:"private_key"`
	PublicKey  string    `db:"public_key"`
	KeySize    int       `db:"key_size"`
	Enabled    bool      `db:"enabled"`
	CreatedAt  time.Time `db:"created_at"`
}

// ActiveKey returns the newest enabled DKIM key for domain, decrypting
// the private key stored at rest (a value that does not decrypt is
// returned as stored).
func (a *DKIMAdapter) ActiveKey(ctx context.Context, dom string) (*domain.DKIMKey, error) {
	query := `SELECT * FROM dkim_keys WHERE domain = $1 AND enabled = true ORDER BY created_at DESC LIMIT 1`
	var row dkimKeyRow
	err := a.db.QueryRowxContext(ctx, query, dom).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	privateKey, err := crypto.Decrypt(row.PrivateKey)
	if err != nil {
		privateKey = row.PrivateKey
	}
	return &domain.DKIMKey{
		ID: row.ID, Domain: row.Domain, Selector: row.Selector,
		PrivateKey: privateKey, PublicKey: row.PublicKey,
		KeySize: row.KeySize, Enabled: row.Enabled, CreatedAt: row.CreatedAt,
	}, nil
}

func (a *DKIMAdapter) Create(ctx context.Context, k *domain.DKIMKey) error {
	encrypted, err := crypto.Encrypt(k.PrivateKey)
	if err != nil {
		encrypted = k.PrivateKey
	}
	query := `
		INSERT INTO dkim_keys (domain, selector, private_key, public_key, key_size, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		k.Domain, k.Selector, encrypted, k.PublicKey, k.KeySize, k.Enabled,
	).Scan(&k.ID, &k.CreatedAt)
}

func (a *DKIMAdapter) DisableAll(ctx context.Context, dom string) error {
	_, err := a.db.ExecContext(ctx, `UPDATE dkim_keys SET enabled = false WHERE domain = $1`, dom)
	return err
}

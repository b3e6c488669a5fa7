package persistence

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/frappe/mail/core/domain"
)

// BlocklistAdapter implements out.IPBlacklistRepository.
type BlocklistAdapter struct {
	db *sqlx.DB
}

func NewBlocklistAdapter(db *sqlx.DB) *BlocklistAdapter {
	return &BlocklistAdapter{db: db}
}

type ipBlacklistRow struct {
	IPAddress         string         `db:"ip_address"`
	IPVersion         int            `db:"ip_version"`
	IPAddressExpanded string         `db:"ip_address_expanded"`
	IPGroup           string         `db:"ip_group"`
	Host              sql.NullString `db:"host"`
	IsBlacklisted     bool           `db:"is_blacklisted"`
	BlacklistReason   sql.NullString `db:"blacklist_reason"`
}

func (r *ipBlacklistRow) toDomain() *domain.IPBlacklist {
	b := &domain.IPBlacklist{
		IPAddress: r.IPAddress, IPVersion: r.IPVersion,
		IPAddressExpanded: r.IPAddressExpanded, IPGroup: r.IPGroup,
		IsBlacklisted: r.IsBlacklisted,
	}
	if r.Host.Valid {
		b.Host = r.Host.String
	}
	if r.BlacklistReason.Valid {
		b.BlacklistReason = r.BlacklistReason.String
	}
	return b
}

// LookupGroup returns the first blacklist entry sharing ipGroup's scope,
// preferring a blacklisted entry if the group has a mix (any member of a
// group being flagged is enough to reject the whole group).
func (a *BlocklistAdapter) LookupGroup(ctx context.Context, ipGroup string) (*domain.IPBlacklist, error) {
	query := `
		SELECT * FROM ip_blacklist
		WHERE ip_group = $1
		ORDER BY is_blacklisted DESC
		LIMIT 1
	`
	var row ipBlacklistRow
	err := a.db.QueryRowxContext(ctx, query, ipGroup).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (a *BlocklistAdapter) Create(ctx context.Context, b *domain.IPBlacklist) error {
	query := `
		INSERT INTO ip_blacklist (
			ip_address, ip_version, ip_address_expanded, ip_group,
			host, is_blacklisted, blacklist_reason
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''))
		ON CONFLICT (ip_address) DO NOTHING
	`
	_, err := a.db.ExecContext(ctx, query,
		b.IPAddress, b.IPVersion, b.IPAddressExpanded, b.IPGroup,
		b.Host, b.IsBlacklisted, b.BlacklistReason,
	)
	return err
}

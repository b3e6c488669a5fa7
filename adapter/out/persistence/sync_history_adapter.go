package persistence

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/frappe/mail/core/domain"
)

// SyncHistoryAdapter implements out.MailSyncHistoryRepository.
type SyncHistoryAdapter struct {
	db *sqlx.DB
}

func NewSyncHistoryAdapter(db *sqlx.DB) *SyncHistoryAdapter {
	return &SyncHistoryAdapter{db: db}
}

type syncHistoryRow struct {
	ID             int64          `db:"id"`
	Source         string         `db:"source"`
	User           string         `db:"user"`
	Mailbox        string         `db:"mailbox"`
	LastSyncedAt   sql.NullTime   `db:"last_synced_at"`
	LastSyncedMail sql.NullString `db:"last_synced_mail"`
	CreatedAt      sql.NullTime   `db:"created_at"`
}

func (r *syncHistoryRow) toDomain() *domain.MailSyncHistory {
	h := &domain.MailSyncHistory{
		ID: r.ID, Source: r.Source, User: r.User, Mailbox: r.Mailbox,
		LastSyncedAt: r.LastSyncedAt.Time, CreatedAt: r.CreatedAt.Time,
	}
	if r.LastSyncedMail.Valid {
		h.LastSyncedMail = &r.LastSyncedMail.String
	}
	return h
}

func (a *SyncHistoryAdapter) Get(ctx context.Context, source, user, mailbox string) (*domain.MailSyncHistory, error) {
	query := `SELECT * FROM mail_sync_history WHERE source = $1 AND "user" = $2 AND mailbox = $3`
	var row syncHistoryRow
	err := a.db.QueryRowxContext(ctx, query, source, user, mailbox).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Upsert inserts or refreshes the cursor for (source, user, mailbox),
// overwriting last_synced_at with the supplied value; it does not compare
// it with the stored one, so an older value moves the cursor back.
func (a *SyncHistoryAdapter) Upsert(ctx context.Context, h *domain.MailSyncHistory) error {
	query := `
		INSERT INTO mail_sync_history (source, "user", mailbox, last_synced_at, last_synced_mail, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (source, "user", mailbox) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_synced_mail = EXCLUDED.last_synced_mail
		RETURNING id, created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		h.Source, h.User, h.Mailbox, h.LastSyncedAt, h.LastSyncedMail,
	).Scan(&h.ID, &h.CreatedAt)
}

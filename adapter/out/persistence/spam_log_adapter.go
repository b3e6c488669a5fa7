package persistence

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/frappe/mail/core/domain"
)

// SpamLogAdapter implements out.SpamCheckLogRepository.
type SpamLogAdapter struct {
	db *sqlx.DB
}

func NewSpamLogAdapter(db *sqlx.DB) *SpamLogAdapter {
	return &SpamLogAdapter{db: db}
}

func (a *SpamLogAdapter) Create(ctx context.Context, l *domain.SpamCheckLog) error {
	query := `
		INSERT INTO spam_check_logs (
			message, source_ip_address, source_host, scanning_mode,
			hybrid_scanning_threshold, spam_score, spam_headers
		) VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		l.Message, l.SourceIPAddress, l.SourceHost, l.ScanningMode,
		l.HybridScanningThreshold, l.SpamScore, pq.Array(l.SpamHeaders),
	).Scan(&l.ID, &l.CreatedAt)
}

// PurgeOlderThan deletes scan logs created before cutoff, returning the
// number removed — the retention sweep a cron cadence drives.
func (a *SpamLogAdapter) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM spam_check_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

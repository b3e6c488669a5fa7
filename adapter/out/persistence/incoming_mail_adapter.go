package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/frappe/mail/core/domain"
)

// IncomingMailAdapter implements out.IncomingMailRepository.
type IncomingMailAdapter struct {
	db *sqlx.DB
}

func NewIncomingMailAdapter(db *sqlx.DB) *IncomingMailAdapter {
	return &IncomingMailAdapter{db: db}
}

type incomingMailRow struct {
	Name        string `db:"name"`
	Sender      string `db:"sender"`
	DisplayName string `db:"display_name"`
	Subject     string `db:"subject"`
	BodyHTML    string `db:"body_html"`
	BodyPlain   string `db:"body_plain"`

	MessageID         string         `db:"message_id"`
	InReplyTo         sql.NullString `db:"in_reply_to"`
	InReplyToMailType sql.NullString `db:"in_reply_to_mail_type"`
	InReplyToMailName sql.NullString `db:"in_reply_to_mail_name"`

	Message     string `db:"message"`
	MessageSize int    `db:"message_size"`

	Receiver string         `db:"receiver"`
	FromIP   sql.NullString `db:"from_ip"`
	FromHost sql.NullString `db:"from_host"`

	CreatedAt      time.Time       `db:"created_at"`
	ReceivedAt     sql.NullTime    `db:"received_at"`
	ProcessedAt    sql.NullTime    `db:"processed_at"`
	ReceivedAfter  sql.NullFloat64 `db:"received_after"`
	ProcessedAfter sql.NullFloat64 `db:"processed_after"`

	IsSpam    bool    `db:"is_spam"`
	SpamScore float64 `db:"spam_score"`

	IsRejected       bool           `db:"is_rejected"`
	RejectionMessage sql.NullString `db:"rejection_message"`

	Folder string `db:"folder"`
	Status string `db:"status"`

	SPF   []byte `db:"spf"`
	DKIM  []byte `db:"dkim"`
	DMARC []byte `db:"dmarc"`

	DocStatus   int    `db:"docstatus"`
	Attachments []byte `db:"attachments"`
}

func unmarshalAuthResult(raw []byte) domain.AuthResult {
	if len(raw) == 0 {
		return domain.DefaultAuthResult()
	}
	var r domain.AuthResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.DefaultAuthResult()
	}
	return r
}

func (r *incomingMailRow) toDomain() (*domain.IncomingMail, error) {
	m := &domain.IncomingMail{
		Name: r.Name, Sender: r.Sender, DisplayName: r.DisplayName,
		Subject: r.Subject, BodyHTML: r.BodyHTML, BodyPlain: r.BodyPlain,
		MessageID: r.MessageID, Message: r.Message, MessageSize: r.MessageSize,
		Receiver: r.Receiver, CreatedAt: r.CreatedAt,
		IsSpam: r.IsSpam, SpamScore: r.SpamScore, IsRejected: r.IsRejected,
		Folder: domain.IncomingFolder(r.Folder), Status: domain.IncomingStatus(r.Status),
		DocStatus: domain.DocStatus(r.DocStatus),
		SPF:       unmarshalAuthResult(r.SPF),
		DKIM:      unmarshalAuthResult(r.DKIM),
		DMARC:     unmarshalAuthResult(r.DMARC),
	}
	if r.InReplyTo.Valid {
		m.InReplyTo = r.InReplyTo.String
	}
	if r.InReplyToMailType.Valid {
		m.InReplyToMailType = r.InReplyToMailType.String
	}
	if r.InReplyToMailName.Valid {
		m.InReplyToMailName = r.InReplyToMailName.String
	}
	if r.FromIP.Valid {
		m.FromIP = r.FromIP.String
	}
	if r.FromHost.Valid {
		m.FromHost = r.FromHost.String
	}
	if r.ReceivedAt.Valid {
		m.ReceivedAt = &r.ReceivedAt.Time
	}
	if r.ProcessedAt.Valid {
		m.ProcessedAt = &r.ProcessedAt.Time
	}
	if r.ReceivedAfter.Valid {
		m.ReceivedAfter = &r.ReceivedAfter.Float64
	}
	if r.ProcessedAfter.Valid {
		m.ProcessedAfter = &r.ProcessedAfter.Float64
	}
	if r.RejectionMessage.Valid {
		m.RejectionMessage = r.RejectionMessage.String
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &m.Attachments); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (a *IncomingMailAdapter) Get(ctx context.Context, name string) (*domain.IncomingMail, error) {
	var row incomingMailRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM incoming_mails WHERE name = $1`, name).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (a *IncomingMailAdapter) Create(ctx context.Context, m *domain.IncomingMail) error {
	attachments, _ := json.Marshal(m.Attachments)
	spf, _ := json.Marshal(m.SPF)
	dkim, _ := json.Marshal(m.DKIM)
	dmarc, _ := json.Marshal(m.DMARC)

	query := `
		INSERT INTO incoming_mails (
			name, sender, display_name, subject, body_html, body_plain,
			message_id, in_reply_to, in_reply_to_mail_type, in_reply_to_mail_name,
			message, message_size, receiver, from_ip, from_host,
			received_at, processed_at, received_after, processed_after,
			is_spam, spam_score, is_rejected, rejection_message,
			folder, status, spf, dkim, dmarc, docstatus, attachments
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			$11, $12, $13, NULLIF($14, ''), NULLIF($15, ''),
			$16, $17, $18, $19,
			$20, $21, $22, NULLIF($23, ''),
			$24, $25, $26, $27, $28, $29, $30
		)
		RETURNING created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		m.Name, m.Sender, m.DisplayName, m.Subject, m.BodyHTML, m.BodyPlain,
		m.MessageID, m.InReplyTo, m.InReplyToMailType, m.InReplyToMailName,
		m.Message, m.MessageSize, m.Receiver, m.FromIP, m.FromHost,
		m.ReceivedAt, m.ProcessedAt, m.ReceivedAfter, m.ProcessedAfter,
		m.IsSpam, m.SpamScore, m.IsRejected, m.RejectionMessage,
		m.Folder, m.Status, spf, dkim, dmarc, m.DocStatus, attachments,
	).Scan(&m.CreatedAt)
}

// ListSince returns mails for receiver with processed_at > cursor,
// ordered ascending, limited to limit rows — the Pull API's page of
// new mail.
func (a *IncomingMailAdapter) ListSince(ctx context.Context, receiver string, cursor time.Time, limit int) ([]domain.IncomingMail, error) {
	query := `
		SELECT * FROM incoming_mails
		WHERE receiver = $1 AND processed_at > $2
		ORDER BY processed_at ASC
		LIMIT $3
	`
	rows, err := a.db.QueryxContext(ctx, query, receiver, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IncomingMail
	for rows.Next() {
		var row incomingMailRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		m, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, *m)
	}
	return result, nil
}

// PurgeRejectedOlderThan implements the daily rejected_mail_retention
// sweep named in the scheduler's cadence table.
func (a *IncomingMailAdapter) PurgeRejectedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM incoming_mails WHERE is_rejected = true AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/frappe/mail/core/domain"
)

// OutgoingMailAdapter implements out.OutgoingMailRepository. Recipients,
// custom headers and attachments are stored as jsonb columns rather than
// child tables — they are always read and written whole, alongside their
// parent.
type OutgoingMailAdapter struct {
	db *sqlx.DB
}

func NewOutgoingMailAdapter(db *sqlx.DB) *OutgoingMailAdapter {
	return &OutgoingMailAdapter{db: db}
}

type outgoingMailRow struct {
	Name        string         `db:"name"`
	Sender      string         `db:"sender"`
	DisplayName string         `db:"display_name"`
	Subject     string         `db:"subject"`
	BodyHTML    string         `db:"body_html"`
	BodyPlain   string         `db:"body_plain"`
	ReplyTo     sql.NullString `db:"reply_to"`

	InReplyTo         sql.NullString `db:"in_reply_to"`
	InReplyToMailType sql.NullString `db:"in_reply_to_mail_type"`
	InReplyToMailName sql.NullString `db:"in_reply_to_mail_name"`

	MessageID   string `db:"message_id"`
	TrackingID  sql.NullString `db:"tracking_id"`
	Message     string `db:"message"`
	MessageSize int    `db:"message_size"`

	CreatedAt        time.Time    `db:"created_at"`
	SubmittedAt      sql.NullTime `db:"submitted_at"`
	SubmittedAfter   sql.NullFloat64 `db:"submitted_after"`
	TransferredAt    sql.NullTime `db:"transferred_at"`
	TransferredAfter sql.NullFloat64 `db:"transferred_after"`

	ViaAPI       bool `db:"via_api"`
	IsNewsletter bool `db:"is_newsletter"`
	SendInBatch  bool `db:"send_in_batch"`

	Folder    string         `db:"folder"`
	Agent     sql.NullString `db:"agent"`
	QueueID   sql.NullString `db:"queue_id"`
	Status    string         `db:"status"`
	ErrorLog  sql.NullString `db:"error_log"`
	DocStatus int            `db:"docstatus"`

	FirstOpenedAt sql.NullTime `db:"first_opened_at"`
	LastOpenedAt  sql.NullTime `db:"last_opened_at"`
	OpenCount     int          `db:"open_count"`

	Recipients    []byte `db:"recipients"`
	CustomHeaders []byte `db:"custom_headers"`
	Attachments   []byte `db:"attachments"`
}

func (r *outgoingMailRow) toDomain() (*domain.OutgoingMail, error) {
	m := &domain.OutgoingMail{
		Name: r.Name, Sender: r.Sender, DisplayName: r.DisplayName,
		Subject: r.Subject, BodyHTML: r.BodyHTML, BodyPlain: r.BodyPlain,
		MessageID: r.MessageID, Message: r.Message, MessageSize: r.MessageSize,
		CreatedAt: r.CreatedAt, ViaAPI: r.ViaAPI, IsNewsletter: r.IsNewsletter,
		SendInBatch: r.SendInBatch, Folder: domain.Folder(r.Folder),
		Status: domain.OutgoingStatus(r.Status), DocStatus: domain.DocStatus(r.DocStatus),
		OpenCount: r.OpenCount,
	}
	if r.ReplyTo.Valid {
		m.ReplyTo = r.ReplyTo.String
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
	if r.TrackingID.Valid {
		m.TrackingID = r.TrackingID.String
	}
	if r.SubmittedAt.Valid {
		m.SubmittedAt = &r.SubmittedAt.Time
	}
	if r.SubmittedAfter.Valid {
		m.SubmittedAfter = &r.SubmittedAfter.Float64
	}
	if r.TransferredAt.Valid {
		m.TransferredAt = &r.TransferredAt.Time
	}
	if r.TransferredAfter.Valid {
		m.TransferredAfter = &r.TransferredAfter.Float64
	}
	if r.Agent.Valid {
		m.Agent = r.Agent.String
	}
	if r.QueueID.Valid {
		m.QueueID = r.QueueID.String
	}
	if r.ErrorLog.Valid {
		m.ErrorLog = r.ErrorLog.String
	}
	if r.FirstOpenedAt.Valid {
		m.FirstOpenedAt = &r.FirstOpenedAt.Time
	}
	if r.LastOpenedAt.Valid {
		m.LastOpenedAt = &r.LastOpenedAt.Time
	}
	if len(r.Recipients) > 0 {
		if err := json.Unmarshal(r.Recipients, &m.Recipients); err != nil {
			return nil, fmt.Errorf("unmarshal recipients: %w", err)
		}
	}
	if len(r.CustomHeaders) > 0 {
		if err := json.Unmarshal(r.CustomHeaders, &m.CustomHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal custom headers: %w", err)
		}
	}
	if len(r.Attachments) > 0 {
		if err := json.Unmarshal(r.Attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	return m, nil
}

func (a *OutgoingMailAdapter) Get(ctx context.Context, name string) (*domain.OutgoingMail, error) {
	var row outgoingMailRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM outgoing_mails WHERE name = $1`, name).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (a *OutgoingMailAdapter) GetByQueueID(ctx context.Context, queueID string) (*domain.OutgoingMail, error) {
	var row outgoingMailRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM outgoing_mails WHERE queue_id = $1`, queueID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (a *OutgoingMailAdapter) GetByTrackingID(ctx context.Context, trackingID string) (*domain.OutgoingMail, error) {
	var row outgoingMailRow
	err := a.db.QueryRowxContext(ctx, `SELECT * FROM outgoing_mails WHERE tracking_id = $1`, trackingID).StructScan(&row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toDomain()
}

func (a *OutgoingMailAdapter) Create(ctx context.Context, m *domain.OutgoingMail) error {
	recipients, _ := json.Marshal(m.Recipients)
	headers, _ := json.Marshal(m.CustomHeaders)
	attachments, _ := json.Marshal(m.Attachments)

	query := `
		INSERT INTO outgoing_mails (
			name, sender, display_name, subject, body_html, body_plain, reply_to,
			in_reply_to, in_reply_to_mail_type, in_reply_to_mail_name,
			message_id, tracking_id, message, message_size,
			submitted_at, submitted_after, via_api, is_newsletter, send_in_batch,
			folder, agent, status, docstatus, recipients, custom_headers, attachments
		) VALUES (
			$1, $2, $3, $4, $5, $6, NULLIF($7, ''),
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			$11, NULLIF($12, ''), $13, $14,
			$15, $16, $17, $18, $19,
			$20, NULLIF($21, ''), $22, $23, $24, $25, $26
		)
		RETURNING created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		m.Name, m.Sender, m.DisplayName, m.Subject, m.BodyHTML, m.BodyPlain, m.ReplyTo,
		m.InReplyTo, m.InReplyToMailType, m.InReplyToMailName,
		m.MessageID, m.TrackingID, m.Message, m.MessageSize,
		m.SubmittedAt, m.SubmittedAfter, m.ViaAPI, m.IsNewsletter, m.SendInBatch,
		m.Folder, m.Agent, m.Status, m.DocStatus, recipients, headers, attachments,
	).Scan(&m.CreatedAt)
}

func (a *OutgoingMailAdapter) Update(ctx context.Context, m *domain.OutgoingMail) error {
	recipients, _ := json.Marshal(m.Recipients)
	headers, _ := json.Marshal(m.CustomHeaders)
	attachments, _ := json.Marshal(m.Attachments)

	query := `
		UPDATE outgoing_mails SET
			status = $1, queue_id = NULLIF($2, ''), error_log = NULLIF($3, ''),
			transferred_at = $4, transferred_after = $5,
			first_opened_at = $6, last_opened_at = $7, open_count = $8,
			recipients = $9, custom_headers = $10, attachments = $11,
			docstatus = $12
		WHERE name = $13
	`
	result, err := a.db.ExecContext(ctx, query,
		m.Status, m.QueueID, m.ErrorLog, m.TransferredAt, m.TransferredAfter,
		m.FirstOpenedAt, m.LastOpenedAt, m.OpenCount,
		recipients, headers, attachments, m.DocStatus, m.Name,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("outgoing mail not found")
	}
	return nil
}

// SelectPendingBatch selects up to limit pending mails and flips them to
// Transferring in the same statement, so two concurrent batch runs never
// pick up the same mail.
func (a *OutgoingMailAdapter) SelectPendingBatch(ctx context.Context, limit int) ([]domain.OutgoingMail, error) {
	query := `
		WITH batch AS (
			SELECT name FROM outgoing_mails
			WHERE docstatus = 1 AND status = $1
			ORDER BY submitted_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outgoing_mails m
		SET status = $3
		FROM batch
		WHERE m.name = batch.name
		RETURNING m.*
	`
	rows, err := a.db.QueryxContext(ctx, query, domain.StatusPending, limit, domain.StatusTransferring)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.OutgoingMail
	for rows.Next() {
		var row outgoingMailRow
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

func (a *OutgoingMailAdapter) MarkTransferred(ctx context.Context, names []string, now time.Time) error {
	query := `
		UPDATE outgoing_mails SET
			status = $1, transferred_at = $2,
			transferred_after = EXTRACT(EPOCH FROM ($2::timestamptz - submitted_at))
		WHERE name = ANY($3)
	`
	_, err := a.db.ExecContext(ctx, query, domain.StatusTransferred, now, pq.Array(names))
	return err
}

func (a *OutgoingMailAdapter) MarkFailed(ctx context.Context, names []string, errLog string) error {
	query := `UPDATE outgoing_mails SET status = $1, error_log = $2 WHERE name = ANY($3)`
	_, err := a.db.ExecContext(ctx, query, domain.StatusFailed, errLog, pq.Array(names))
	return err
}

// UpdateRecipientStatus rewrites the whole recipients jsonb column with
// rcpt's entry replaced in place, then recomputes the mail-level status
// from the updated set — mirroring DeriveOutgoingStatus being a pure
// function recomputed after every per-recipient change.
func (a *OutgoingMailAdapter) UpdateRecipientStatus(ctx context.Context, mailName string, rcpt domain.MailRecipient) error {
	m, err := a.Get(ctx, mailName)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("outgoing mail not found")
	}
	for i := range m.Recipients {
		if m.Recipients[i].Key() == rcpt.Key() {
			m.Recipients[i] = rcpt
			break
		}
	}
	m.Status = domain.DeriveOutgoingStatus(m.Recipients)
	return a.Update(ctx, m)
}

func (a *OutgoingMailAdapter) IncrementOpenCount(ctx context.Context, trackingID string, now time.Time) error {
	query := `
		UPDATE outgoing_mails SET
			open_count = open_count + 1,
			first_opened_at = COALESCE(first_opened_at, $1),
			last_opened_at = $1
		WHERE tracking_id = $2
	`
	_, err := a.db.ExecContext(ctx, query, now, trackingID)
	return err
}

// PurgeNewslettersOlderThan implements the daily newsletter_retention
// sweep named in the scheduler's cadence table.
func (a *OutgoingMailAdapter) PurgeNewslettersOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx, `DELETE FROM outgoing_mails WHERE is_newsletter = true AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

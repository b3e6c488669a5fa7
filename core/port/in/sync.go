package in

import (
	"context"
	"time"

	"github.com/frappe/mail/core/domain"
)

// PullRequest is the Sync Cursor Service's input.
type PullRequest struct {
	Mailbox      string
	Limit        int
	LastSyncedAt *time.Time
	Source       string
	Raw          bool // true => pull_raw semantics, return RFC 5322 bytes
}

// PullResult carries the mails found and the cursor to persist for the
// next call.
type PullResult struct {
	Mails        []domain.IncomingMail
	LastSyncedAt time.Time
}

// SyncCursorService resolves a per-(source,user,mailbox)
// resumable pull with monotonic ordering.
type SyncCursorService interface {
	Pull(ctx context.Context, actor domain.Context, req PullRequest) (*PullResult, error)
}

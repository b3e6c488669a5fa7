// Package sync implements the resumable pull API: a per-(source, user,
// mailbox) cursor over the inbox, used by desktop/mobile clients that
// can't hold a persistent IMAP-style connection open.
package sync

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/frappe/mail/core/domain"
	in "github.com/frappe/mail/core/port/in"
	"github.com/frappe/mail/core/port/out"
	"github.com/frappe/mail/pkg/apperr"
	"github.com/frappe/mail/pkg/cache"
	"github.com/frappe/mail/pkg/logger"
)

const defaultSyncLimit = 100
const maxSyncLimit = 1000

// cursorCacheTTL bounds how long a cached (source,user,mailbox) cursor
// can go stale if the cache and the history table ever disagree (e.g.
// after a crash between the DB commit and the cache write below).
const cursorCacheTTL = 5 * time.Minute

// Cursor implements in.SyncCursorService.
type Cursor struct {
	history   out.MailSyncHistoryRepository
	incoming  out.IncomingMailRepository
	mailboxes out.MailboxRepository
	cache     *cache.RedisCache
	now       func() time.Time
}

func NewCursor(history out.MailSyncHistoryRepository, incoming out.IncomingMailRepository, mailboxes out.MailboxRepository, redisClient *redis.Client) *Cursor {
	c := &Cursor{history: history, incoming: incoming, mailboxes: mailboxes, now: time.Now}
	if redisClient != nil {
		c.cache = cache.NewRedisCache(redisClient)
	}
	return c
}

// cachedCursor is the fast-path cache entry: the resolved cursor for a
// (source, user, mailbox) triple, so a repeated pull skips the history
// table read; Pull still writes the cursor back with Upsert.
type cachedCursor struct {
	LastSyncedAt time.Time `json:"last_synced_at"`
}

func cursorCacheKey(source, user, mailbox string) string {
	return "synccursor:" + source + ":" + user + ":" + mailbox
}

// Pull returns every mail for req.Mailbox received after the caller's
// saved cursor (or req.LastSyncedAt, when the caller wants to override
// it), and advances the cursor to the newest mail returned.
func (c *Cursor) Pull(ctx context.Context, actor domain.Context, req in.PullRequest) (*in.PullResult, error) {
	mbox, err := c.mailboxes.Get(ctx, req.Mailbox)
	if err != nil {
		return nil, err
	}
	if mbox == nil {
		return nil, apperr.NotFound("mailbox")
	}
	if !actor.IsSystemManager() && mbox.User != actor.User {
		return nil, apperr.NotMailboxOwner(actor.User)
	}
	if !mbox.Incoming {
		return nil, apperr.ValidationFailed("mailbox is not incoming-enabled")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultSyncLimit
	}
	if limit > maxSyncLimit {
		limit = maxSyncLimit
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	cursor, err := c.resolveCursor(ctx, source, actor.User, req.Mailbox, req.LastSyncedAt)
	if err != nil {
		return nil, err
	}

	mails, err := c.incoming.ListSince(ctx, req.Mailbox, cursor, limit)
	if err != nil {
		return nil, err
	}

	newCursor := cursor
	var lastName *string
	for _, m := range mails {
		if m.ProcessedAt != nil && m.ProcessedAt.After(newCursor) {
			newCursor = *m.ProcessedAt
			name := m.Name
			lastName = &name
		}
	}

	if err := c.history.Upsert(ctx, &domain.MailSyncHistory{
		Source: source, User: actor.User, Mailbox: req.Mailbox,
		LastSyncedAt: newCursor, LastSyncedMail: lastName,
	}); err != nil {
		return nil, err
	}
	c.warmCache(ctx, source, actor.User, req.Mailbox, newCursor)

	return &in.PullResult{Mails: mails, LastSyncedAt: newCursor}, nil
}

// resolveCursor returns override (converted to UTC) when the caller
// supplied one, otherwise the saved cursor for this (source, user,
// mailbox) triple — checking the Redis fast-path cache first, and
// falling back to (then warming from) the history table, lazily
// creating the row from the zero time on first sight.
func (c *Cursor) resolveCursor(ctx context.Context, source, user, mailbox string, override *time.Time) (time.Time, error) {
	if override != nil {
		return override.UTC(), nil
	}

	if c.cache != nil {
		var cached cachedCursor
		if hit, err := c.cache.GetJSON(ctx, cursorCacheKey(source, user, mailbox), &cached); err == nil && hit {
			return cached.LastSyncedAt, nil
		}
	}

	existing, err := c.history.Get(ctx, source, user, mailbox)
	if err != nil {
		return time.Time{}, err
	}
	if existing != nil {
		c.warmCache(ctx, source, user, mailbox, existing.LastSyncedAt)
		return existing.LastSyncedAt, nil
	}

	zero := time.Time{}
	if err := c.history.Upsert(ctx, &domain.MailSyncHistory{
		Source: source, User: user, Mailbox: mailbox,
		LastSyncedAt: zero, CreatedAt: c.now(),
	}); err != nil {
		return time.Time{}, err
	}
	c.warmCache(ctx, source, user, mailbox, zero)
	return zero, nil
}

// warmCache best-effort refreshes the fast-path cache entry; a cache
// write failure never fails the pull, since the history table remains
// the source of truth.
func (c *Cursor) warmCache(ctx context.Context, source, user, mailbox string, cursor time.Time) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, cursorCacheKey(source, user, mailbox), cachedCursor{LastSyncedAt: cursor}, cursorCacheTTL); err != nil {
		logger.WithError(err).Warn("sync cursor cache warm failed")
	}
}

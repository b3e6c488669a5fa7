package sync

import (
	"context"
	"sync"
	"time"

	"github.com/frappe/mail/core/domain"
)

type fakeMailboxRepo struct {
	byEmail map[string]*domain.Mailbox
}

func newFakeMailboxRepo() *fakeMailboxRepo {
	return &fakeMailboxRepo{byEmail: make(map[string]*domain.Mailbox)}
}

func (f *fakeMailboxRepo) Get(ctx context.Context, email string) (*domain.Mailbox, error) {
	return f.byEmail[email], nil
}
func (f *fakeMailboxRepo) ListByUser(ctx context.Context, user string) ([]domain.Mailbox, error) {
	var out []domain.Mailbox
	for _, m := range f.byEmail {
		if m.User == user {
			out = append(out, *m)
		}
	}
	return out, nil
}
func (f *fakeMailboxRepo) Create(ctx context.Context, m *domain.Mailbox) error {
	f.byEmail[m.Email] = m
	return nil
}
func (f *fakeMailboxRepo) Update(ctx context.Context, m *domain.Mailbox) error {
	f.byEmail[m.Email] = m
	return nil
}

type fakeIncomingRepo struct {
	mails []domain.IncomingMail
}

func (f *fakeIncomingRepo) Get(ctx context.Context, name string) (*domain.IncomingMail, error) {
	for _, m := range f.mails {
		if m.Name == name {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeIncomingRepo) Create(ctx context.Context, m *domain.IncomingMail) error {
	f.mails = append(f.mails, *m)
	return nil
}
func (f *fakeIncomingRepo) ListSince(ctx context.Context, receiver string, cursor time.Time, limit int) ([]domain.IncomingMail, error) {
	var out []domain.IncomingMail
	for _, m := range f.mails {
		if m.Receiver == receiver && m.ProcessedAt != nil && m.ProcessedAt.After(cursor) {
			out = append(out, m)
		}
	}
	sortIncomingByProcessedAt(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeIncomingRepo) PurgeRejectedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func sortIncomingByProcessedAt(mails []domain.IncomingMail) {
	for i := 1; i < len(mails); i++ {
		for j := i; j > 0 && mails[j].ProcessedAt.Before(*mails[j-1].ProcessedAt); j-- {
			mails[j], mails[j-1] = mails[j-1], mails[j]
		}
	}
}

type fakeHistoryRepo struct {
	mu  sync.Mutex
	key func(source, user, mailbox string) string
	byK map[string]*domain.MailSyncHistory
}

func newFakeHistoryRepo() *fakeHistoryRepo {
	return &fakeHistoryRepo{
		byK: make(map[string]*domain.MailSyncHistory),
		key: func(source, user, mailbox string) string { return source + "|" + user + "|" + mailbox },
	}
}

func (f *fakeHistoryRepo) Get(ctx context.Context, source, user, mailbox string) (*domain.MailSyncHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.byK[f.key(source, user, mailbox)]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}
func (f *fakeHistoryRepo) Upsert(ctx context.Context, h *domain.MailSyncHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byK[f.key(h.Source, h.User, h.Mailbox)] = h
	return nil
}

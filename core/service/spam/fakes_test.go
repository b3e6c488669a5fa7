package spam

import (
	"context"
	"time"

	"github.com/frappe/mail/core/domain"
)

// fakeScanner is a stand-in for the spamc subprocess port: it returns a
// scripted response per call, in order, so tests can assert on the
// hybrid mode's conditional re-scan.
type fakeScanner struct {
	responses [][]byte
	calls     int
	messages  [][]byte
}

func (f *fakeScanner) Scan(ctx context.Context, message []byte) ([]byte, error) {
	f.messages = append(f.messages, message)
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

type fakeLogRepo struct {
	logs []*domain.SpamCheckLog
}

func (f *fakeLogRepo) Create(ctx context.Context, l *domain.SpamCheckLog) error {
	f.logs = append(f.logs, l)
	return nil
}
func (f *fakeLogRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeBlacklistRepo struct {
	byGroup map[string]*domain.IPBlacklist
	creates int
}

func newFakeBlacklistRepo() *fakeBlacklistRepo {
	return &fakeBlacklistRepo{byGroup: make(map[string]*domain.IPBlacklist)}
}

func (f *fakeBlacklistRepo) LookupGroup(ctx context.Context, ipGroup string) (*domain.IPBlacklist, error) {
	return f.byGroup[ipGroup], nil
}
func (f *fakeBlacklistRepo) Create(ctx context.Context, b *domain.IPBlacklist) error {
	f.creates++
	f.byGroup[b.IPGroup] = b
	return nil
}

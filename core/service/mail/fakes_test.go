package mail

import (
	"context"
	"sync"
	"time"

	"github.com/frappe/mail/core/domain"
	"github.com/frappe/mail/core/port/out"
)

// The fakes below are minimal in-memory implementations of core/port/out,
// used across this package's tests so each service can be exercised
// without a database or broker.

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

type fakeAliasRepo struct {
	byAlias map[string]*domain.MailAlias
}

func newFakeAliasRepo() *fakeAliasRepo { return &fakeAliasRepo{byAlias: make(map[string]*domain.MailAlias)} }

func (f *fakeAliasRepo) Get(ctx context.Context, alias string) (*domain.MailAlias, error) {
	return f.byAlias[alias], nil
}

type fakeDomainRepo struct {
	byName map[string]*domain.MailDomain
	root   string
}

func newFakeDomainRepo() *fakeDomainRepo { return &fakeDomainRepo{byName: make(map[string]*domain.MailDomain)} }

func (f *fakeDomainRepo) Get(ctx context.Context, name string) (*domain.MailDomain, error) {
	return f.byName[name], nil
}
func (f *fakeDomainRepo) Create(ctx context.Context, d *domain.MailDomain) error {
	f.byName[d.Name] = d
	return nil
}
func (f *fakeDomainRepo) Update(ctx context.Context, d *domain.MailDomain) error {
	f.byName[d.Name] = d
	return nil
}
func (f *fakeDomainRepo) RootDomain(ctx context.Context) (*domain.MailDomain, error) {
	if f.root == "" {
		return nil, nil
	}
	return f.byName[f.root], nil
}

type fakeDKIMRepo struct {
	byDomain map[string]*domain.DKIMKey
}

func newFakeDKIMRepo() *fakeDKIMRepo { return &fakeDKIMRepo{byDomain: make(map[string]*domain.DKIMKey)} }

func (f *fakeDKIMRepo) ActiveKey(ctx context.Context, d string) (*domain.DKIMKey, error) {
	k, ok := f.byDomain[d]
	if !ok || !k.Enabled {
		return nil, nil
	}
	return k, nil
}
func (f *fakeDKIMRepo) Create(ctx context.Context, k *domain.DKIMKey) error {
	f.byDomain[k.Domain] = k
	return nil
}
func (f *fakeDKIMRepo) DisableAll(ctx context.Context, d string) error {
	if k, ok := f.byDomain[d]; ok {
		k.Enabled = false
	}
	return nil
}

type fakeOutgoingRepo struct {
	mu        sync.Mutex
	byName    map[string]*domain.OutgoingMail
	byQueueID map[string]string
}

func newFakeOutgoingRepo() *fakeOutgoingRepo {
	return &fakeOutgoingRepo{byName: make(map[string]*domain.OutgoingMail), byQueueID: make(map[string]string)}
}

func (f *fakeOutgoingRepo) Get(ctx context.Context, name string) (*domain.OutgoingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}
func (f *fakeOutgoingRepo) GetByQueueID(ctx context.Context, queueID string) (*domain.OutgoingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.byQueueID[queueID]
	if !ok {
		return nil, nil
	}
	cp := *f.byName[name]
	return &cp, nil
}
func (f *fakeOutgoingRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.OutgoingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.byName {
		if m.TrackingID == trackingID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}
func (f *fakeOutgoingRepo) Create(ctx context.Context, m *domain.OutgoingMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[m.Name] = m
	if m.QueueID != "" {
		f.byQueueID[m.QueueID] = m.Name
	}
	return nil
}
func (f *fakeOutgoingRepo) Update(ctx context.Context, m *domain.OutgoingMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[m.Name] = m
	if m.QueueID != "" {
		f.byQueueID[m.QueueID] = m.Name
	}
	return nil
}
func (f *fakeOutgoingRepo) SelectPendingBatch(ctx context.Context, limit int) ([]domain.OutgoingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutgoingMail
	for _, m := range f.byName {
		if m.DocStatus == domain.DocStatusSubmitted && m.Status == domain.StatusPending {
			out = append(out, *m)
			if len(out) >= limit {
				break
			}
		}
	}
	for i := range out {
		out[i].Status = domain.StatusTransferring
		f.byName[out[i].Name].Status = domain.StatusTransferring
	}
	return out, nil
}
func (f *fakeOutgoingRepo) MarkTransferred(ctx context.Context, names []string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if m, ok := f.byName[n]; ok {
			m.Status = domain.StatusTransferred
			m.TransferredAt = &now
		}
	}
	return nil
}
func (f *fakeOutgoingRepo) MarkFailed(ctx context.Context, names []string, errLog string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		if m, ok := f.byName[n]; ok {
			m.Status = domain.StatusFailed
			m.ErrorLog = errLog
		}
	}
	return nil
}
func (f *fakeOutgoingRepo) UpdateRecipientStatus(ctx context.Context, mailName string, rcpt domain.MailRecipient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[mailName]
	if !ok {
		return nil
	}
	for i := range m.Recipients {
		if m.Recipients[i].Key() == rcpt.Key() {
			m.Recipients[i] = rcpt
		}
	}
	return nil
}
func (f *fakeOutgoingRepo) IncrementOpenCount(ctx context.Context, trackingID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.byName {
		if m.TrackingID == trackingID {
			if m.FirstOpenedAt == nil {
				m.FirstOpenedAt = &now
			}
			m.LastOpenedAt = &now
			m.OpenCount++
			return nil
		}
	}
	return nil
}
func (f *fakeOutgoingRepo) PurgeNewslettersOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for name, m := range f.byName {
		if m.IsNewsletter && m.CreatedAt.Before(cutoff) {
			delete(f.byName, name)
			n++
		}
	}
	return n, nil
}

type fakeIncomingRepo struct {
	mu     sync.Mutex
	byName map[string]*domain.IncomingMail
}

func newFakeIncomingRepo() *fakeIncomingRepo {
	return &fakeIncomingRepo{byName: make(map[string]*domain.IncomingMail)}
}

func (f *fakeIncomingRepo) Get(ctx context.Context, name string) (*domain.IncomingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byName[name]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}
func (f *fakeIncomingRepo) Create(ctx context.Context, m *domain.IncomingMail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[m.Name] = m
	return nil
}
func (f *fakeIncomingRepo) ListSince(ctx context.Context, receiver string, cursor time.Time, limit int) ([]domain.IncomingMail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.IncomingMail
	for _, m := range f.byName {
		if m.Receiver == receiver && m.DocStatus == domain.DocStatusSubmitted && m.ProcessedAt != nil && m.ProcessedAt.After(cursor) {
			out = append(out, *m)
		}
	}
	sortIncomingByProcessedAt(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (f *fakeIncomingRepo) PurgeRejectedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for name, m := range f.byName {
		if m.IsRejected && m.CreatedAt.Before(cutoff) {
			delete(f.byName, name)
			n++
		}
	}
	return n, nil
}

func sortIncomingByProcessedAt(mails []domain.IncomingMail) {
	for i := 1; i < len(mails); i++ {
		for j := i; j > 0 && mails[j].ProcessedAt.Before(*mails[j-1].ProcessedAt); j-- {
			mails[j], mails[j-1] = mails[j-1], mails[j]
		}
	}
}

type fakeContactRepo struct {
	byKey map[string]*domain.MailContact
}

func newFakeContactRepo() *fakeContactRepo { return &fakeContactRepo{byKey: make(map[string]*domain.MailContact)} }

func (f *fakeContactRepo) Upsert(ctx context.Context, c *domain.MailContact) error {
	f.byKey[c.User+"|"+c.Email] = c
	return nil
}

type fakeAttachmentStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeAttachmentStore() *fakeAttachmentStore {
	return &fakeAttachmentStore{data: make(map[string][]byte)}
}

func (f *fakeAttachmentStore) Put(ctx context.Context, id, contentType string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[id] = data
	return "attachments/" + id, nil
}
func (f *fakeAttachmentStore) Get(ctx context.Context, storageRef string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[storageRef], nil
}
func (f *fakeAttachmentStore) Delete(ctx context.Context, storageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, storageRef)
	return nil
}

// fakeBroker is an in-memory stand-in for out.BrokerClient: each queue is
// a FIFO slice and BasicGet pops the head. Ack and Nack are no-ops, so a
// nacked message is not redelivered, even with requeue set.
type fakeBroker struct {
	mu        sync.Mutex
	queues    map[string][]out.BrokerMessage
	published []publishedMessage
	nextTag   uint64
	declared  map[string]bool
	failNext  int // if > 0, Publish fails this many times before succeeding
}

type publishedMessage struct {
	Exchange, RoutingKey string
	Body                 []byte
	Priority             uint8
	Persistent           bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{queues: make(map[string][]out.BrokerMessage), declared: make(map[string]bool)}
}

func (b *fakeBroker) DeclareQueue(ctx context.Context, name string, maxPriority uint8, durable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.declared[name] = true
	return nil
}

func (b *fakeBroker) Publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8, persistent bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return context.DeadlineExceeded
	}
	b.published = append(b.published, publishedMessage{exchange, routingKey, body, priority, persistent})
	b.nextTag++
	b.queues[routingKey] = append(b.queues[routingKey], out.BrokerMessage{Body: body, DeliveryTag: b.nextTag})
	return nil
}

func (b *fakeBroker) BasicGet(ctx context.Context, queue string, autoAck bool) (out.BrokerMessage, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[queue]
	if len(q) == 0 {
		return out.BrokerMessage{}, false, nil
	}
	head := q[0]
	b.queues[queue] = q[1:]
	return head, true, nil
}

// enqueue seeds queue directly with a raw message body, bypassing Publish,
// for tests that want to drive a consumer without asserting on publish
// call history.
func (b *fakeBroker) enqueue(queue string, body []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTag++
	b.queues[queue] = append(b.queues[queue], out.BrokerMessage{Body: body, DeliveryTag: b.nextTag})
}

func (b *fakeBroker) Ack(ctx context.Context, deliveryTag uint64) error  { return nil }
func (b *fakeBroker) Nack(ctx context.Context, deliveryTag uint64, requeue bool) error {
	return nil
}
func (b *fakeBroker) Close() error { return nil }

type fakeSpamGate struct {
	score float64
}

func (f *fakeSpamGate) Score(ctx context.Context, message []byte) (float64, error) {
	return f.score, nil
}
func (f *fakeSpamGate) IsSpam(ctx context.Context, message []byte, emailType domain.EmailType) (bool, float64, error) {
	return f.score > 0, f.score, nil
}
func (f *fakeSpamGate) Scan(ctx context.Context, message []byte, mode domain.ScanningMode, hybridThreshold float64) (*domain.SpamCheckLog, error) {
	return &domain.SpamCheckLog{SpamScore: f.score, ScanningMode: mode}, nil
}

type fakeBlocklistGate struct {
	blacklisted map[string]bool
}

func (f *fakeBlocklistGate) Lookup(ctx context.Context, ip string) (*domain.IPBlacklist, error) {
	if f.blacklisted[domain.IPGroup(ip)] {
		return &domain.IPBlacklist{IPAddress: ip, IsBlacklisted: true}, nil
	}
	return &domain.IPBlacklist{IPAddress: ip, IsBlacklisted: false}, nil
}

package mail

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/frappe/mail/core/domain"
	in "github.com/frappe/mail/core/port/in"
)

type fakeComposer struct {
	submissions []in.Submission
	failNext    bool
}

func (f *fakeComposer) Compose(ctx context.Context, actor domain.Context, sub in.Submission) (*domain.OutgoingMail, error) {
	if f.failNext {
		f.failNext = false
		return nil, context.DeadlineExceeded
	}
	f.submissions = append(f.submissions, sub)
	return &domain.OutgoingMail{Name: "generated"}, nil
}

func TestNewsletterDrainerComposesWithBatchFlagsSet(t *testing.T) {
	broker := newFakeBroker()
	composer := &fakeComposer{}
	drainer := NewNewsletterDrainer(composer, broker)

	env := NewsletterEnvelope{
		Actor:      domain.Context{User: "marketing"},
		Submission: in.Submission{Sender: "news@example.test", Subject: "Update", ViaAPI: true},
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	broker.enqueue(newsletterQueue, body)

	count, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("processed = %d, want 1", count)
	}
	if len(composer.submissions) != 1 {
		t.Fatalf("expected 1 composed submission, got %d", len(composer.submissions))
	}
	sub := composer.submissions[0]
	if !sub.IsNewsletter || !sub.SendInBatch {
		t.Errorf("expected IsNewsletter/SendInBatch forced true, got %+v", sub)
	}
}

func TestNewsletterDrainerMalformedEnvelopeIsDroppedNotRequeued(t *testing.T) {
	broker := newFakeBroker()
	composer := &fakeComposer{}
	drainer := NewNewsletterDrainer(composer, broker)

	broker.enqueue(newsletterQueue, []byte("not json"))

	count, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if count != 0 {
		t.Errorf("a malformed envelope must not count as processed, got %d", count)
	}
	if len(composer.submissions) != 0 {
		t.Errorf("composer should never be called for a malformed envelope")
	}
}

func TestNewsletterDrainerComposeFailureIsRequeued(t *testing.T) {
	broker := newFakeBroker()
	composer := &fakeComposer{failNext: true}
	drainer := NewNewsletterDrainer(composer, broker)

	env := NewsletterEnvelope{Submission: in.Submission{Sender: "news@example.test"}}
	body, _ := json.Marshal(env)
	broker.enqueue(newsletterQueue, body)

	count, err := drainer.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if count != 0 {
		t.Errorf("a compose failure must not count as processed, got %d", count)
	}
}

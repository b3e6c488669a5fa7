package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/frappe/mail/core/domain"
)

type intakeFixture struct {
	intake    *Intake
	mailboxes *fakeMailboxRepo
	aliases   *fakeAliasRepo
	domains   *fakeDomainRepo
	incoming  *fakeIncomingRepo
	broker    *fakeBroker
	spam      *fakeSpamGate
}

func newIntakeFixture() *intakeFixture {
	priv, _, _ := GenerateKeyPair(1024)
	keys := newFakeDKIMRepo()
	keys.byDomain["example.test"] = &domain.DKIMKey{Domain: "example.test", Selector: "fm1", PrivateKey: priv, Enabled: true}

	mailboxes := newFakeMailboxRepo()
	aliases := newFakeAliasRepo()
	domains := newFakeDomainRepo()
	domains.byName["example.test"] = &domain.MailDomain{Name: "example.test", Enabled: true, IsRootDomain: true}
	domains.root = "example.test"
	incoming := newFakeIncomingRepo()
	attachments := newFakeAttachmentStore()
	broker := newFakeBroker()
	spam := &fakeSpamGate{}

	intake := NewIntake(NewParser(), NewSigner(keys), mailboxes, aliases, domains, incoming, attachments, broker, spam, nil)
	return &intakeFixture{intake, mailboxes, aliases, domains, incoming, broker, spam}
}

func buildIncomingMessage(to, deliveredTo string) string {
	h := "From: Alice <alice@sender.test>\r\n" +
		"To: " + to + "\r\n" +
		"Subject: Hello\r\n" +
		"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n" +
		"Message-ID: <m1@sender.test>\r\n"
	if deliveredTo != "" {
		h += "Delivered-To: " + deliveredTo + "\r\n"
	}
	h += "Content-Type: text/plain; charset=utf-8\r\n\r\nHello.\r\n"
	return h
}

func TestIntakeDeliversToEnabledMailbox(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: true, Incoming: true}

	raw := buildIncomingMessage("bob@example.test", "bob@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	n, err := f.intake.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1", n)
	}
	if len(f.incoming.byName) != 1 {
		t.Fatalf("expected 1 incoming mail, got %d", len(f.incoming.byName))
	}
	for _, m := range f.incoming.byName {
		if m.Receiver != "bob@example.test" {
			t.Errorf("receiver = %q, want bob@example.test", m.Receiver)
		}
		if m.IsRejected {
			t.Errorf("expected accepted mail, got rejected")
		}
		if m.Folder != domain.IncomingFolderInbox {
			t.Errorf("folder = %v, want Inbox", m.Folder)
		}
	}
}

func TestIntakeDisabledMailboxIsNotADestination(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: false, Incoming: true}

	raw := buildIncomingMessage("bob@example.test", "bob@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if len(f.incoming.byName) != 1 {
		t.Fatalf("expected the rejection path to persist one row, got %d", len(f.incoming.byName))
	}
	for _, m := range f.incoming.byName {
		if !m.IsRejected {
			t.Errorf("expected rejected mail for a disabled mailbox destination")
		}
	}
}

func TestIntakeMailboxNotIncomingEnabledIsNotADestination(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: true, Incoming: false}

	raw := buildIncomingMessage("bob@example.test", "bob@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	for _, m := range f.incoming.byName {
		if !m.IsRejected {
			t.Errorf("expected rejection when destination mailbox has incoming disabled")
		}
	}
}

func TestIntakeAliasFanOut(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: true, Incoming: true}
	f.mailboxes.byEmail["carol@example.test"] = &domain.Mailbox{Email: "carol@example.test", DomainName: "example.test", Enabled: true, Incoming: true}
	f.aliases.byAlias["team@example.test"] = &domain.MailAlias{Alias: "team@example.test", DomainName: "example.test", Enabled: true, Mailboxes: []string{"bob@example.test", "carol@example.test"}}

	raw := buildIncomingMessage("team@example.test", "team@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if len(f.incoming.byName) != 2 {
		t.Fatalf("expected 2 incoming mails from alias fan-out, got %d", len(f.incoming.byName))
	}
	receivers := map[string]bool{}
	for _, m := range f.incoming.byName {
		receivers[m.Receiver] = true
	}
	if !receivers["bob@example.test"] || !receivers["carol@example.test"] {
		t.Errorf("expected fan-out to both alias members, got %v", receivers)
	}
}

func TestIntakeDisabledDomainRejects(t *testing.T) {
	f := newIntakeFixture()
	f.domains.byName["ghost.test"] = &domain.MailDomain{Name: "ghost.test", Enabled: false}
	f.mailboxes.byEmail["bob@ghost.test"] = &domain.Mailbox{Email: "bob@ghost.test", DomainName: "ghost.test", Enabled: true, Incoming: true}

	raw := buildIncomingMessage("bob@ghost.test", "bob@ghost.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	for _, m := range f.incoming.byName {
		if !m.IsRejected {
			t.Errorf("expected rejection for a disabled domain")
		}
	}
}

func TestIntakeUnknownAddressIsRejectedAndBounced(t *testing.T) {
	f := newIntakeFixture()
	raw := buildIncomingMessage("ghost@example.test", "ghost@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}

	if len(f.incoming.byName) != 1 {
		t.Fatalf("expected exactly one rejected IncomingMail row, got %d", len(f.incoming.byName))
	}
	for _, m := range f.incoming.byName {
		if !m.IsRejected {
			t.Errorf("expected is_rejected=true")
		}
		if m.RejectionMessage != domain.RejectionMessageAccessDenied {
			t.Errorf("rejection_message = %q, want %q", m.RejectionMessage, domain.RejectionMessageAccessDenied)
		}
		if m.Status != domain.IncomingStatusRejected {
			t.Errorf("status = %v, want Rejected", m.Status)
		}
	}

	if len(f.broker.published) != 1 {
		t.Fatalf("expected a postmaster bounce to be published, got %d messages", len(f.broker.published))
	}
	bounce := string(f.broker.published[0].Body)
	if !strings.Contains(bounce, "Undeliverable:") {
		t.Errorf("bounce subject missing Undeliverable prefix:\n%s", bounce)
	}
	if !strings.Contains(bounce, "postmaster@example.test") {
		t.Errorf("expected bounce From postmaster@example.test:\n%s", bounce)
	}
}

func TestIntakeRejectionSuppressesBounceWhenNotificationDisabled(t *testing.T) {
	f := newIntakeFixture()
	f.intake.sendNotificationOnReject = false

	raw := buildIncomingMessage("ghost@example.test", "ghost@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if len(f.incoming.byName) != 1 {
		t.Fatalf("expected the rejection row to still be persisted, got %d", len(f.incoming.byName))
	}
	if len(f.broker.published) != 0 {
		t.Errorf("expected no bounce when send_notification_on_reject is false, got %d", len(f.broker.published))
	}
}

func TestIntakeSpamScoreRoutesToSpamFolder(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: true, Incoming: true}
	f.spam.score = 9.0

	raw := buildIncomingMessage("bob@example.test", "bob@example.test")
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	if _, err := f.intake.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	for _, m := range f.incoming.byName {
		if !m.IsSpam || m.Folder != domain.IncomingFolderSpam {
			t.Errorf("expected spam classification, got IsSpam=%v Folder=%v", m.IsSpam, m.Folder)
		}
	}
}

func TestIntakeBlacklistedSenderIPIsDropped(t *testing.T) {
	f := newIntakeFixture()
	f.mailboxes.byEmail["bob@example.test"] = &domain.Mailbox{Email: "bob@example.test", DomainName: "example.test", Enabled: true, Incoming: true}
	blocklist := &fakeBlocklistGate{blacklisted: map[string]bool{"203.0": true}}
	f.intake.blocklist = blocklist

	raw := "From: Alice <alice@sender.test>\r\n" +
		"To: bob@example.test\r\n" +
		"Delivered-To: bob@example.test\r\n" +
		"Subject: Hello\r\n" +
		"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n" +
		"Message-ID: <m1@sender.test>\r\n" +
		"Received: from mail.sender.test (mail.sender.test [203.0.113.9]) by mx.example.test\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\nHello.\r\n"
	f.broker.enqueue(incomingMailQueue, []byte(raw))

	n, err := f.intake.DrainOnce(context.Background())
	if err != nil {
		t.Fatalf("DrainOnce() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("processed = %d, want 1 (the message should still be acked)", n)
	}
	if len(f.incoming.byName) != 0 {
		t.Errorf("expected no IncomingMail persisted for a blacklisted sender, got %d", len(f.incoming.byName))
	}
}

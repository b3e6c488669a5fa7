package mail

import (
	"strings"
	"testing"

	"github.com/frappe/mail/pkg/apperr"
)

func buildMultipartMessage(extraHeaders, htmlBody string) string {
	headers := "To: bob@peer.test\r\n" +
		"From: Alice <alice@example.test>\r\n" +
		"Subject: Hello\r\n" +
		"Date: Mon, 01 Jan 2024 00:00:00 +0000\r\n" +
		"Message-ID: <m1@example.test>\r\n" +
		extraHeaders +
		"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n\r\n"
	body := "--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"Hello plain\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		htmlBody + "\r\n" +
		"--BOUNDARY--\r\n"
	return headers + body
}

func TestParserBasicFields(t *testing.T) {
	raw := buildMultipartMessage("", "<p>Hello html</p>")
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", msg.Subject, "Hello")
	}
	if msg.From.Address != "alice@example.test" || msg.From.Name != "Alice" {
		t.Errorf("From = %+v", msg.From)
	}
	if msg.MessageID != "m1@example.test" {
		t.Errorf("MessageID = %q", msg.MessageID)
	}
	if !strings.Contains(msg.BodyPlain, "Hello plain") {
		t.Errorf("BodyPlain = %q", msg.BodyPlain)
	}
	if !strings.Contains(msg.BodyHTML, "Hello html") {
		t.Errorf("BodyHTML = %q", msg.BodyHTML)
	}
}

func TestParserMissingDateFails(t *testing.T) {
	raw := "To: bob@peer.test\r\nFrom: alice@example.test\r\nSubject: Hi\r\n\r\nBody\r\n"
	p := NewParser()
	_, err := p.Parse([]byte(raw))
	if err == nil {
		t.Fatal("expected InvalidDateFormat error for missing Date header")
	}
	if apperr.AsAppError(err).Code != apperr.CodeInvalidDateFormat {
		t.Errorf("error code = %s, want %s", apperr.AsAppError(err).Code, apperr.CodeInvalidDateFormat)
	}
}

func TestParserAuthenticationResultsDefaults(t *testing.T) {
	raw := buildMultipartMessage("", "<p>x</p>")
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.SPF.Pass || msg.SPF.Description != "Header not found." {
		t.Errorf("SPF default = %+v", msg.SPF)
	}
	if msg.DKIM.Pass || msg.DMARC.Pass {
		t.Errorf("expected dkim/dmarc to default to fail when header absent")
	}
}

func TestParserAuthenticationResultsSingleHeader(t *testing.T) {
	extra := "Authentication-Results: mx.example.test; spf=pass smtp.mailfrom=example.test; dkim=pass header.d=example.test; dmarc=fail\r\n"
	raw := buildMultipartMessage(extra, "<p>x</p>")
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !msg.SPF.Pass {
		t.Errorf("expected SPF pass from single-header auth-results")
	}
	if !msg.DKIM.Pass {
		t.Errorf("expected DKIM pass from single-header auth-results")
	}
	if msg.DMARC.Pass {
		t.Errorf("expected DMARC fail from single-header auth-results")
	}
}

func TestParserReceivedHeaderExtractsIPAndHost(t *testing.T) {
	extra := "Received: from mail.sender.test (mail.sender.test [203.0.113.7]) by mx.example.test\r\n"
	raw := buildMultipartMessage(extra, "<p>x</p>")
	p := NewParser()
	msg, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if msg.FromIP != "203.0.113.7" {
		t.Errorf("FromIP = %q, want 203.0.113.7", msg.FromIP)
	}
	if msg.FromHost != "mail.sender.test" {
		t.Errorf("FromHost = %q, want mail.sender.test", msg.FromHost)
	}
}

func TestParsedMessageRewriteCIDs(t *testing.T) {
	msg := &ParsedMessage{
		BodyHTML:  `<img src="cid:att1">`,
		BodyPlain: "see cid:att1",
	}
	msg.RewriteCIDs(func(id string) (string, bool) {
		if id == "att1" {
			return "/files/att1.png", true
		}
		return "", false
	})
	if !strings.Contains(msg.BodyHTML, "/files/att1.png") {
		t.Errorf("BodyHTML cid not rewritten: %q", msg.BodyHTML)
	}
	if strings.Contains(msg.BodyPlain, "cid:att1") {
		t.Errorf("BodyPlain cid not rewritten: %q", msg.BodyPlain)
	}
}

func TestValidateDateNotFuture(t *testing.T) {
	now := mustDate(t, "2026-07-31T00:00:00Z")
	future := mustDate(t, "2026-08-01T00:00:00Z")
	past := mustDate(t, "2026-07-30T00:00:00Z")

	if err := ValidateDateNotFuture(future, now); err == nil {
		t.Error("expected FutureDated error for a future date")
	}
	if err := ValidateDateNotFuture(past, now); err != nil {
		t.Errorf("unexpected error for a past date: %v", err)
	}
}
